package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-transaction retries in Update when the
// watched key changes underneath us.
const maxTxRetries = 50

// Redis is a Store backed by plain Redis string values.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at redisURL.
func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return NewRedisFromClient(redis.NewClient(opt)), nil
}

// NewRedisFromClient wraps an existing client. Close closes the client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "doc:"}
}

// Client exposes the underlying connection so other components (the shared
// rate limiter) can reuse it.
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) redisKey(collection, id string) string {
	return r.prefix + key(collection, id)
}

func (r *Redis) Get(ctx context.Context, collection, id string) ([]byte, error) {
	doc, err := r.client.Get(ctx, r.redisKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (r *Redis) Set(ctx context.Context, collection, id string, doc []byte) error {
	if err := r.client.Set(ctx, r.redisKey(collection, id), doc, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	if err := r.client.Del(ctx, r.redisKey(collection, id)).Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update uses WATCH/MULTI so a concurrent writer to the same document forces
// a retry instead of a lost update.
func (r *Redis) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	k := r.redisKey(collection, id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			current, exists = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, k)
		switch {
		case err == nil, errors.Is(err, ErrSkipWrite):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("redis update %s/%s: %w", collection, id, err)
		}
	}
	return fmt.Errorf("redis update %s/%s: %w", collection, id, redis.TxFailedErr)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
