// ratelimit.go implements token-bucket rate limiting for the exchange API.
//
// The exchange enforces a per-key request budget; exceeding it returns 429s
// that count against the account. This file provides a smooth token-bucket
// implementation that refills continuously and makes callers wait in FIFO
// order rather than bursting into the hard limit.
//
// Two buckets are maintained:
//   - Trade: order placement and cancellation
//   - Read:  market lists, orderbooks, portfolio reads
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
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

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by exchange endpoint category.
// Each operation must call the appropriate bucket's Wait() before
// making the HTTP request.
type RateLimiter struct {
	Trade *TokenBucket // POST /portfolio/orders, DELETE /portfolio/orders/{id}
	Read  *TokenBucket // market and portfolio reads
}

// NewRateLimiter creates rate limiters tuned to the configured request
// budget. Both categories share the same rate; capacity allows a small
// burst at cycle start when all cities fetch quotes together.
func NewRateLimiter(ratePerSec float64) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &RateLimiter{
		Trade: NewTokenBucket(ratePerSec, ratePerSec),
		Read:  NewTokenBucket(ratePerSec*2, ratePerSec),
	}
}
