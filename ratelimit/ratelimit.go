// Package ratelimit implements the token bucket used to respect remote
// per-key request quotas. Explorer APIs count every record kind against one
// shared budget, so a single bucket is shared by all fetch passes of a chain.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a minimal interface implemented by rate limiters.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket issues up to rate tokens per second with a bounded burst.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

// NewTokenBucket constructs a limiter that issues up to rate tokens per second
// with the provided burst capacity.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if rate <= 0 {
		panic("rate must be positive")
	}
	if burst <= 0 {
		panic("burst must be positive")
	}
	return &TokenBucket{
		rate:     rate,
		capacity: float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
	}
}

// Wait blocks until a single token is available or the context is cancelled.
func (b *TokenBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		b.refill(now)

		if b.tokens >= 1 {
			b.tokens--
			return nil
		}

		needed := (1 - b.tokens) / b.rate
		waitDuration := time.Duration(needed * float64(time.Second))
		if waitDuration <= 0 {
			waitDuration = time.Millisecond
		}

		timer := time.NewTimer(waitDuration)
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			b.mu.Lock()
			return ctx.Err()
		case <-timer.C:
		}
		b.mu.Lock()
	}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += b.rate * elapsed.Seconds()
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// Unlimited is a limiter that never blocks. Useful in tests.
type Unlimited struct{}

func (Unlimited) Wait(context.Context) error { return nil }
