// Package circuitbreaker stops calling a dependency that keeps failing.
//
// A closed breaker lets every call through and counts consecutive failures.
// Past the threshold it opens and rejects calls for a cooldown, then lets a
// few trial calls through (half-open). Enough successful trial calls close
// it again; any failed one reopens it. Results of calls admitted before a
// state change are ignored, so a slow call cannot flip a breaker that has
// moved on.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects a call while the breaker cools down.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects a call while every trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ─── settings ───────────────────────────────────────────────────────────────

type settings struct {
	failureThreshold int
	successThreshold int
	trials           int
	cooldown         time.Duration
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
	now              func() time.Time
}

// Option tunes a breaker.
type Option func(*settings)

// WithFailureThreshold opens the breaker after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold closes a half-open breaker after n good trial calls.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithMaxHalfOpenRequests bounds the trial calls in flight while half-open.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.trials = n
		}
	}
}

// WithCooldown sets how long an open breaker rejects calls.
func WithCooldown(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithIsFailure decides which errors count against the breaker. Errors it
// rejects, such as business refusals, count as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithOnStateChange is called on every transition, under the breaker lock.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// ─── breaker ────────────────────────────────────────────────────────────────

// CircuitBreaker guards one dependency. It is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	successes  int
	inFlight   int
	openedAt   time.Time
}

// New creates a closed breaker. Defaults: open after 5 failures, close
// after 2 good trial calls made one at a time, 30s cooldown.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		trials:           1,
		cooldown:         30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn unless the breaker rejects the call, and records the
// outcome. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err != nil && (cb.cfg.isFailure == nil || cb.cfg.isFailure(err)))
	return err
}

// State returns the current state. An open breaker whose cooldown is over
// reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.trials {
			return 0, ErrTooManyRequests
		}
		cb.inFlight++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		return
	}
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.inFlight--
		if failed {
			cb.transition(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

// advance moves an open breaker to half-open once the cooldown is over.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.cooldown {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.failures, cb.successes, cb.inFlight = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.now()
	}
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// NotifierBreaker guards the push gateway. One good delivery closes it.
func NotifierBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("notifier",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithCooldown(30*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}
