package push

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter is a token bucket that keeps notice delivery under the push
// gateway's quota.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens  float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	// blockedUntil is set by a 429 from the gateway.
	blockedUntil time.Time
	waitTimeout  time.Duration
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests made in a burst.
	BurstSize int

	// WaitTimeout is the maximum time to wait for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns the gateway's documented quota.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		WaitTimeout:       10 * time.Second,
	}
}

// NewRateLimiter creates a RateLimiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	return &RateLimiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  time.Now(),
		waitTimeout: config.WaitTimeout,
	}
}

// ErrRateLimitWaitTimeout is returned when no token frees up in time.
var ErrRateLimitWaitTimeout = errors.New("timeout waiting for rate limit")

// Wait blocks until a token is available, ctx ends or the wait timeout
// passes.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	var deadline time.Time
	if rl.waitTimeout > 0 {
		deadline = time.Now().Add(rl.waitTimeout)
	}
	for {
		wait, ok := rl.tryAcquire(time.Now())
		if ok {
			return nil
		}
		if !deadline.IsZero() && time.Now().Add(wait).After(deadline) {
			return ErrRateLimitWaitTimeout
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire takes a token or returns how long to wait for one.
func (rl *RateLimiter) tryAcquire(now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}
	rl.refill(now)
	if rl.tokens < 1 {
		need := 1 - rl.tokens
		return time.Duration(need / rl.refillRate * float64(time.Second)), false
	}
	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket and pauses until retryAfter passes.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	rl.tokens = 0
	rl.lastRefill = time.Now()
	rl.blockedUntil = rl.lastRefill.Add(retryAfter)
}
