package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/autothreat/autothreat-backend/internal/telemetry"
)

// Admission layers, used as metrics labels and log fields
const (
	LayerIP   = "ip"
	LayerUser = "user"
)

// Limiter applies an admission policy on top of a Ledger. A ledger error
// never blocks a request: the limiter admits it, logs the degradation, and
// counts it so operators can see the limiter running open.
type Limiter struct {
	ledger Ledger
	layer  string
	window time.Duration
}

// New creates a Limiter for one admission layer
func New(ledger Ledger, layer string, window time.Duration) *Limiter {
	return &Limiter{
		ledger: ledger,
		layer:  layer,
		window: window,
	}
}

// Stop releases the underlying ledger's resources
func (l *Limiter) Stop() {
	l.ledger.Stop()
}

// Admit records one request against key and decides whether it may proceed
func (l *Limiter) Admit(ctx context.Context, key string, limit int) Decision {
	decision, err := l.ledger.Take(ctx, key, limit, l.window)
	if err != nil {
		slog.Warn("rate limit store unavailable, admitting request",
			"layer", l.layer,
			"key", key,
			"error", err,
		)
		telemetry.RateLimitFailOpenTotal.WithLabelValues(l.layer).Inc()
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
		}
	}

	if !decision.Allowed {
		telemetry.RateLimitDenialsTotal.WithLabelValues(l.layer).Inc()
	}

	return decision
}
