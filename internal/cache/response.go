// Package cache implements the content-addressed response cache. Answers
// are keyed by a SHA-256 digest of the exact question text and shared by
// all users.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
)

// Collection is the store collection holding cache entries.
const Collection = "response-cache"

// DefaultTTL applies when Put is called with a non-positive ttl.
const DefaultTTL = 30 * 24 * time.Hour

type ResponseCache struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	errors      atomic.Int64
	expirations atomic.Int64
}

func NewResponseCache(s store.Store, clk clock.Clock, logger *slog.Logger) *ResponseCache {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{
		store:  s,
		clock:  clk,
		logger: logger.With(slog.String("component", "cache")),
	}
}

// Key returns the digest a question is stored under. No normalization is
// applied: "Hello" and "hello" are different keys.
func Key(question string) string {
	hash := sha256.Sum256([]byte(question))
	return fmt.Sprintf("%x", hash)
}

// Get returns the cached answer for question. An expired entry is deleted
// and reported as a miss. A store failure is returned with found=false so
// the caller can continue uncached.
func (c *ResponseCache) Get(ctx context.Context, question string) (string, bool, error) {
	key := Key(question)

	doc, err := c.store.Get(ctx, Collection, key)
	if errors.Is(err, store.ErrNotFound) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		c.errors.Add(1)
		return "", false, fmt.Errorf("cache read: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		c.errors.Add(1)
		return "", false, fmt.Errorf("cache decode %s: %w", key, err)
	}

	if entry.Expired(c.clock.Now()) {
		c.misses.Add(1)
		c.expirations.Add(1)
		if err := c.store.Delete(ctx, Collection, key); err != nil {
			c.logger.WarnContext(ctx, "failed to delete expired cache entry",
				slog.String("key", key), slog.Any("error", err))
		}
		return "", false, nil
	}

	c.hits.Add(1)
	return entry.Response, true, nil
}

// Put stores text as the answer to question for ttl, replacing any
// existing entry.
func (c *ResponseCache) Put(ctx context.Context, question, text string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.clock.Now()
	entry := models.CacheEntry{
		Key:       Key(question),
		Response:  text,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	if err := c.store.Set(ctx, Collection, entry.Key, doc); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache write: %w", err)
	}

	c.writes.Add(1)
	return nil
}

// Evict removes the cached answer to question, if any.
func (c *ResponseCache) Evict(ctx context.Context, question string) error {
	if err := c.store.Delete(ctx, Collection, Key(question)); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache evict: %w", err)
	}
	return nil
}

// Stats reports counters accumulated since the cache was created.
func (c *ResponseCache) Stats() models.CacheStats {
	return models.CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Writes:      c.writes.Load(),
		Errors:      c.errors.Load(),
		Expirations: c.expirations.Load(),
	}
}
