// Package jobs holds the server's background maintenance loops. Each job owns
// a ticker goroutine started from the router wiring and stopped during
// graceful shutdown.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/autothreat/autothreat-backend/internal/db/repositories"
)

// TokenSweeper periodically deletes API tokens whose expiry has passed.
// Expired tokens are already rejected at authentication time; the sweep keeps
// the tokens table from accumulating dead credentials and keeps token lists
// readable for users.
type TokenSweeper struct {
	tokenRepo *repositories.TokenRepository
	interval  time.Duration
	stopChan  chan struct{}
}

// NewTokenSweeper creates a new TokenSweeper. A non-positive interval
// defaults to 24 hours.
func NewTokenSweeper(tokenRepo *repositories.TokenRepository, interval time.Duration) *TokenSweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &TokenSweeper{
		tokenRepo: tokenRepo,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *TokenSweeper) Start(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop terminates the sweep loop
func (s *TokenSweeper) Stop() {
	close(s.stopChan)
}

func (s *TokenSweeper) sweep(ctx context.Context) {
	swept, err := s.tokenRepo.DeleteExpired(ctx)
	if err != nil {
		slog.Warn("expired token sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("swept expired tokens", "count", swept)
	}
}
