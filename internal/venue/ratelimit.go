// ratelimit.go implements token-bucket rate limiting for venue REST calls,
// generalized from the teacher's per-category Polymarket limiter
// (exchange/ratelimit.go) to Hyperliquid's documented REST weight limits:
// refill continuously rather than in fixed windows so callers never burst
// into a hard limit right at a window boundary.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a token-bucket rate limiter with continuous refill. Callers
// block in Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a limiter with the given burst capacity and
// steady-state refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups the token buckets this system's execution adapters
// need, by endpoint category.
type RateLimiter struct {
	Order  *TokenBucket // order submission
	Cancel *TokenBucket // cancel / cancel-all
	Info   *TokenBucket // account/position/book info queries
}

// NewRateLimiter builds a RateLimiter as burst/refill-per-second pairs:
// Order and Cancel each burst 60 and refill 15/s (900/minute), Info bursts
// 120 and refills 30/s. The buckets are independent; no budget shared
// across categories is enforced.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(60, 15),
		Cancel: NewTokenBucket(60, 15),
		Info:   NewTokenBucket(120, 30),
	}
}
