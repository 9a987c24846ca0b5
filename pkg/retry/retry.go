// Package retry repeats an operation with capped exponential backoff.
//
// An operation tells the Retrier what to do with a failure by wrapping it:
// Retryable asks for another attempt, Permanent stops at once. Retriers can
// also be told which sentinel errors are worth another attempt (RetryOn),
// which is how lost compare-and-swap races on the ledger are retried.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

// RetryableError marks a failure worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as worth another attempt. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the Retryable marker.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// PermanentError marks a failure that no further attempt can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as final. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// unmark strips a top-level marker so callers see the cause.
func unmark(err error) error {
	switch e := err.(type) {
	case *RetryableError:
		return e.Err
	case *PermanentError:
		return e.Err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICIES
// ══════════════════════════════════════════════════════════════════════════════

// Policy bounds the attempts and the waits between them. The wait doubles
// from Base up to Cap; Jitter spreads it by up to that fraction either way.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Jitter   float64
}

var (
	// Ledger retries lost version races. Each attempt reloads the
	// enrollment, so the waits are short.
	Ledger = Policy{Attempts: 5, Base: 10 * time.Millisecond, Cap: 200 * time.Millisecond, Jitter: 0.3}

	// Wallet retries payout releases inside one deduction.
	Wallet = Policy{Attempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second, Jitter: 0.2}

	// Delivery retries a push before the notice is parked as failed.
	Delivery = Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: time.Second, Jitter: 0.1}
)

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	d := p.Base
	for i := 1; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	d = min(d, p.Cap)
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Option customizes a Retrier.
type Option func(*Retrier)

// RetryOn also retries unmarked errors matching any of targets.
func RetryOn(targets ...error) Option {
	return func(r *Retrier) {
		r.retryIf = func(err error) bool {
			for _, t := range targets {
				if errors.Is(err, t) {
					return true
				}
			}
			return false
		}
	}
}

// OnRetry registers fn to be called before every wait.
func OnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier runs operations under one Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error, wait time.Duration)
}

// New creates a Retrier for policy.
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{policy: policy.normalized()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx ends. A top-level marker is stripped from the returned error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !r.shouldRetry(err) || attempt >= r.policy.Attempts {
			return unmark(err)
		}

		wait := r.policy.Backoff(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return unmark(last)
		case <-t.C:
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if IsRetryable(err) {
		return true
	}
	return r.retryIf != nil && r.retryIf(err)
}
