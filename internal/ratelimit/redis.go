package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter whose counters live in Redis, so every
// instance of the service sees the same counts.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		now:    time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

// Allow increments the counter of the current window and reports whether it
// is within limit. The counter expires together with its window.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	const op = "ratelimit.Redis.Allow"

	if limit <= 0 || window <= 0 {
		return true, nil
	}

	k := windowKey(key, windowStart(r.now(), window))

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return incr.Val() <= int64(limit), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
