// Package ratelimit bounds the request rate of an actor using fixed windows
// counted in an external TTL counter store, so every service instance shares
// the same budget.
package ratelimit

import (
	"context"
	"time"

	"promohive/pkg/config"
	"promohive/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		NewRedisStore,
		NewLimiter,
	),
)

// Store is a keyed counter whose keys expire after a window.
type Store interface {
	// Incr increments key and returns the new count and the time left in its window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) Store {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return incr.Val(), ttl.Val(), nil
}

type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
}

func NewLimiter(store Store, cfg *config.Config) *Limiter {
	return New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window)
}

func New(store Store, limit int64, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window}
}

// Key picks the bucket for a request: the authenticated user when known,
// otherwise the client IP.
func Key(userID, ip string) string {
	if userID != "" {
		return rediskey.BuildUserRateKey(userID)
	}
	return rediskey.BuildIPRateKey(ip)
}

func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, ttl, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	res := Result{Limit: l.limit, Remaining: l.limit - count}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	res.Allowed = count <= l.limit
	if !res.Allowed {
		res.RetryAfter = ttl
		if ttl <= 0 {
			res.RetryAfter = l.window
		}
	}
	return res, nil
}
