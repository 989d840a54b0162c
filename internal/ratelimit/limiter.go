// Package ratelimit provides the per-client allow/deny decision consumed by
// submission. Counting is a fixed window over a pluggable Store.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store counts hits per key within a window.
type Store interface {
	// Incr adds one hit to key and returns the count in the current window
	// and the time left until the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most limit hits per key per window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
}

// New creates a limiter.
func New(store Store, limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window, prefix: "rl:"}
}

// Allow records a hit for key and decides whether it is within the limit.
// A store failure allows the hit and returns the error for logging.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.store.Incr(ctx, l.prefix+key, l.window)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("rate limit store: %w", err)
	}

	if ttl <= 0 {
		ttl = l.window
	}

	if count > int64(l.limit) {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
}

// Limit returns the configured hits per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Close releases the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
