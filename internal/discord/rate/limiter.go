// Package rate spaces out Discord API reads issued in bulk.
package rate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter enforces delays between Discord API requests with random jitter.
type Limiter struct {
	mu          sync.Mutex
	nextSlot    time.Time
	minInterval time.Duration
	maxJitter   time.Duration
}

// New creates a rate limiter with base interval and jitter.
// For example, baseInterval=1s and jitter=200ms will result in delays between 800ms-1200ms.
// A zero baseInterval disables the limiter.
func New(baseInterval, jitter time.Duration) *Limiter {
	if jitter > baseInterval {
		jitter = baseInterval
	}

	return &Limiter{
		minInterval: baseInterval,
		maxJitter:   jitter,
	}
}

// WaitForNextSlot blocks until the caller's reserved slot arrives.
// Concurrent callers are handed consecutive slots.
func (r *Limiter) WaitForNextSlot(ctx context.Context) error {
	if r.minInterval <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	now := time.Now()

	slot := r.nextSlot
	if slot.Before(now) {
		slot = now
	}

	r.nextSlot = slot.Add(r.interval())
	r.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// interval returns the next spacing. Must be called with mu held.
func (r *Limiter) interval() time.Duration {
	if r.maxJitter <= 0 {
		return r.minInterval
	}

	//nolint:gosec // jitter does not need a secure source
	offset := time.Duration(rand.Int64N(int64(r.maxJitter*2))) - r.maxJitter

	return r.minInterval + offset
}
