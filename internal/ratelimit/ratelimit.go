// Package ratelimit gates requests per client with a sliding window: a
// client may make at most Limit requests in any trailing Window.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Limiter decides whether a client may proceed. A false result means the
// request must be rejected without recording it.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// Config sizes the window. Zero values take the defaults.
type Config struct {
	Limit  int
	Window time.Duration
	// IdleTTL is how long an in-process limiter keeps a client whose most
	// recent request is older than the window. Zero means one window.
	IdleTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.IdleTTL < c.Window {
		c.IdleTTL = c.Window
	}
	return c
}
