package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryEntry tracks request counts for a single key within one window
type memoryEntry struct {
	count       int
	windowStart time.Time
}

// MemoryLedger is an in-process fixed-window counter store. Suitable for
// single-node deployments and development; counters reset on restart and are
// not shared across replicas.
type MemoryLedger struct {
	entries map[string]*memoryEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryLedger creates a MemoryLedger and starts its cleanup goroutine
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// cleanup periodically removes entries whose window has long passed
func (l *MemoryLedger) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, entry := range l.entries {
				if now.Sub(entry.windowStart) > 10*time.Minute {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *MemoryLedger) Stop() {
	close(l.stopCh)
}

// Take records one request under the mutex, so the count check and the
// increment are a single atomic step.
func (l *MemoryLedger) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	// A non-positive limit admits nothing
	if limit <= 0 {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: window,
		}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, exists := l.entries[key]

	if !exists || now.Sub(entry.windowStart) >= window {
		// New key or expired window: start a fresh window
		l.entries[key] = &memoryEntry{count: 1, windowStart: now}
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
		}, nil
	}

	entry.count++
	resetIn := window - now.Sub(entry.windowStart)

	if entry.count > limit {
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
		Remaining: limit - entry.count,
	}, nil
}
