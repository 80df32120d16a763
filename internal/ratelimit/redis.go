package ratelimit

import (
	"context"
	"fmt"

	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records one request
// atomically. Scores are unix milliseconds.
//
// KEYS[1] window key; ARGV: now, cutoff, limit, member, window ms.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RateLimiter is a Limiter whose windows live in Redis, so every server
// instance sees the same counts. Idle windows expire with their key.
type RateLimiter struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
}

func NewRateLimiter(client *redis.Client, cfg Config, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{client: client, cfg: cfg.withDefaults(), clock: clk}
}

func (rl *RateLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:client:%s", clientID)
	windowMs := rl.cfg.Window.Milliseconds()
	now := rl.clock.Now().UnixMilli()

	// An instant exactly one window old is outside the window.
	allowed, err := slidingWindowScript.Run(ctx, rl.client, []string{key},
		now, now-windowMs, rl.cfg.Limit, uuid.NewString(), windowMs,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}

	return allowed == 1, nil
}
