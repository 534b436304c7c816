package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript increments the window counter and sets its expiry in one server
// round trip. INCR and PEXPIRE run atomically inside the script, so two
// concurrent requests at the limit boundary cannot both be admitted.
var takeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisLedger is a Redis-backed fixed-window counter store shared across
// replicas. Each key's counter lives exactly one window and then expires.
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLedger creates a RedisLedger over an existing client
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client:    client,
		keyPrefix: "ratelimit:",
	}
}

// Stop is a no-op; the client is owned by the caller
func (l *RedisLedger) Stop() {}

// Take atomically records one request against key
func (l *RedisLedger) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := takeScript.Run(ctx, l.client, []string{l.keyPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	count, ok := vals[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("rate limit script: unexpected count %v", vals[0])
	}
	ttlMillis, _ := vals[1].(int64)

	resetIn := time.Duration(ttlMillis) * time.Millisecond
	if resetIn < 0 {
		resetIn = 0
	}

	if count > int64(limit) {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: resetIn,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
	}, nil
}
