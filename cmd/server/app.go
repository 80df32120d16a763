package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/HanTheDev/devops-agent-gateway/internal/config"
	"github.com/HanTheDev/devops-agent-gateway/internal/db"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/redis/go-redis/v9"
)

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore connects the configured durable store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		s, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if err := s.Client().Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return s, nil
	case "postgres":
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return database, nil
	case "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// redisClientFor returns a client for the shared rate limiter, reusing the
// store's connection when the store is Redis. The bool reports whether the
// caller owns (and must close) the client.
func redisClientFor(s store.Store, cfg *config.Config) (*redis.Client, bool, error) {
	if rs, ok := s.(*store.Redis); ok {
		return rs.Client(), false, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, false, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), true, nil
}
