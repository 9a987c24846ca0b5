package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/wallet"
	"github.com/halaka-hub/halaka-scheduler/pkg/circuitbreaker"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ReleaseObserver records wallet releases. Satisfied by metrics.Metrics.
type ReleaseObserver interface {
	ObserveRelease(amount int64, err error)
}

// GuardedWallet decorates a wallet with retries and a circuit breaker.
// Business rejections (no escrow, unknown wallet) are returned at once and
// do not count against the breaker.
type GuardedWallet struct {
	next     wallet.Wallet
	breaker  *circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	observer ReleaseObserver
	logger   *slog.Logger
}

var _ wallet.Wallet = (*GuardedWallet)(nil)

// NewGuardedWallet wraps next. observer may be nil. onStateChange receives
// breaker transitions and may be nil.
func NewGuardedWallet(
	next wallet.Wallet,
	observer ReleaseObserver,
	logger *slog.Logger,
	onStateChange func(name string, from, to circuitbreaker.State),
) *GuardedWallet {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := circuitbreaker.New("wallet",
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithSuccessThreshold(2),
		circuitbreaker.WithMaxHalfOpenRequests(1),
		circuitbreaker.WithIsFailure(func(err error) bool { return !isRejection(err) }),
		circuitbreaker.WithOnStateChange(onStateChange),
	)
	return &GuardedWallet{
		next:     next,
		breaker:  breaker,
		retrier:  retry.New(retry.Wallet),
		observer: observer,
		logger:   logger.With("component", "wallet"),
	}
}

// ReleaseFunds implements wallet.Wallet.
func (w *GuardedWallet) ReleaseFunds(ctx context.Context, teacher shared.TeacherID, amount shared.Money, reference string) error {
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		return w.retrier.Do(ctx, func(ctx context.Context) error {
			err := w.next.ReleaseFunds(ctx, teacher, amount, reference)
			if err != nil && isRejection(err) {
				return retry.Permanent(err)
			}
			if err != nil {
				return retry.Retryable(err)
			}
			return nil
		})
	})
	if w.observer != nil {
		w.observer.ObserveRelease(int64(amount), err)
	}
	if err != nil {
		w.logger.Warn("release failed", "teacher_id", teacher, "amount", amount, "reference", reference, "error", err)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return shared.WrapError("wallet", "Release", shared.ErrServiceUnavailable, "wallet circuit open", err)
		}
		return err
	}
	return nil
}

// State exposes the breaker state for health checks.
func (w *GuardedWallet) State() circuitbreaker.State {
	return w.breaker.State()
}

// IsOpen reports whether wallet calls are currently short-circuited.
func (w *GuardedWallet) IsOpen() bool {
	return w.breaker.State() == circuitbreaker.StateOpen
}

func isRejection(err error) bool {
	return errors.Is(err, shared.ErrInsufficientEscrow) || errors.Is(err, shared.ErrWalletNotFound)
}
