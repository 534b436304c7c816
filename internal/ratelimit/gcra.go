package ratelimit

import (
	"context"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// GCRALedger wraps redis_rate's leaky-bucket limiter. Used for the coarse
// per-IP layer, where smoothing bursty clients matters more than exact
// window counts.
type GCRALedger struct {
	limiter *redis_rate.Limiter
}

// NewGCRALedger creates a GCRALedger over an existing client
func NewGCRALedger(client *redis.Client) *GCRALedger {
	return &GCRALedger{limiter: redis_rate.NewLimiter(client)}
}

// Stop is a no-op; the client is owned by the caller
func (l *GCRALedger) Stop() {}

// Take admits one request against key at limit-per-window
func (l *GCRALedger) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := l.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Period: window,
		Burst:  limit,
	})
	if err != nil {
		return Decision{}, err
	}

	retryAfter := res.RetryAfter
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      limit,
		Remaining:  res.Remaining,
		RetryAfter: retryAfter,
	}, nil
}
