// Package throttle implements a fixed-window rate limiter backed by Redis.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
	prefix string
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, prefix: "throttle:"}
}

// NewLimiterFromURL connects to Redis using a redis:// URL.
func NewLimiterFromURL(ctx context.Context, redisURL string) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewLimiter(client), nil
}

// Allow reports whether another event fits under the limit for the current
// window. The counter expires with the window, so idle keys cost nothing.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	full := l.prefix + key
	count, err := l.client.Incr(ctx, full).Result()
	if err != nil {
		return false, fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, full, window).Err(); err != nil {
			return false, fmt.Errorf("throttle expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func (l *Limiter) Close() error {
	return l.client.Close()
}
