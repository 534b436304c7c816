// Package ratelimit implements the two request-admission layers: a coarse
// per-client-IP limit and a fine per-identity, per-endpoint limit. Both are
// expressed as a Limiter over a Ledger; the ledger is the counter store
// (in-process memory or Redis) and the limiter adds the admission policy,
// metrics, and fail-open behavior on store errors.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check
type Decision struct {
	// Allowed reports whether the request may proceed
	Allowed bool

	// Limit is the maximum number of requests for the window
	Limit int

	// Remaining is how many requests are left in the current window
	Remaining int

	// RetryAfter is how long until the window resets. Zero when allowed
	// with headroom or when the store cannot say.
	RetryAfter time.Duration
}

// Ledger is an atomic check-and-increment counter store. Take records one
// request against key and reports whether it fits within limit for the
// current window. The count and the admission verdict are produced in a
// single atomic step so concurrent requests cannot both observe the last
// free slot.
type Ledger interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)

	// Stop releases any background resources held by the ledger
	Stop()
}
