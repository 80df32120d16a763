package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
)

// SlidingWindow is a process-local Limiter. Counts are not shared between
// server instances.
type SlidingWindow struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

func NewSlidingWindow(cfg Config, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.Real()
	}
	return &SlidingWindow{
		cfg:       cfg.withDefaults(),
		clock:     clk,
		requests:  make(map[string][]time.Time),
		lastSweep: clk.Now(),
	}
}

// Allow never returns an error.
func (l *SlidingWindow) Allow(_ context.Context, clientID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.sweep(now)

	timestamps := l.requests[clientID]
	pruned := timestamps[:0]
	for _, t := range timestamps {
		if now.Sub(t) < l.cfg.Window {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= l.cfg.Limit {
		l.requests[clientID] = pruned
		return false, nil
	}

	l.requests[clientID] = append(pruned, now)
	return true, nil
}

// sweep drops clients idle for longer than IdleTTL. It runs at most once
// per window so Allow stays O(Limit) amortized. Caller holds l.mu.
func (l *SlidingWindow) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now

	for id, timestamps := range l.requests {
		if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) >= l.cfg.IdleTTL {
			delete(l.requests, id)
		}
	}
}

// Clients returns the number of tracked client identifiers.
func (l *SlidingWindow) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
