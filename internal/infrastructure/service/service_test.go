package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/memory"
	"github.com/halaka-hub/halaka-scheduler/pkg/circuitbreaker"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

const teacher = shared.TeacherID("d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70")

var student = shared.Actor{Kind: shared.ActorStudent, ID: "45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60"}

type senderFunc func(ctx context.Context, n *notification.Notification) error

func (f senderFunc) Send(ctx context.Context, n *notification.Notification) error { return f(ctx, n) }

type recordingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *recordingObserver) ObserveNotification(t string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	key := t + ":ok"
	if err != nil {
		key = t + ":failed"
	}
	o.results[key]++
}

func (o *recordingObserver) ObserveRelease(amount int64, err error) {
	o.ObserveNotification("release", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestNotificationService_DeliversInBackground(t *testing.T) {
	outbox := memory.NewNotificationRepository()
	var sent int32
	sender := senderFunc(func(context.Context, *notification.Notification) error {
		atomic.AddInt32(&sent, 1)
		return nil
	})
	obs := &recordingObserver{}
	svc := NewNotificationService(outbox, sender, nil, obs, nil, NotificationConfig{})

	svc.Notify(context.Background(), student, notification.TypeLowBalance, "Your sessions ran out", "")
	require.NoError(t, svc.Wait(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&sent))
	all := outbox.All()
	require.Len(t, all, 1)
	assert.Equal(t, notification.StatusDelivered, all[0].Status)
	assert.Equal(t, 1, obs.results["low_balance:ok"])
}

func TestNotificationService_FailureStaysInOutbox(t *testing.T) {
	outbox := memory.NewNotificationRepository()
	var fail atomic.Bool
	fail.Store(true)
	sender := senderFunc(func(context.Context, *notification.Notification) error {
		if fail.Load() {
			return retry.Permanent(errors.New("gateway rejected"))
		}
		return nil
	})
	svc := NewNotificationService(outbox, sender, nil, nil, nil, NotificationConfig{})

	// The caller's context is already done; delivery still happens.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Notify(ctx, student, notification.TypeOccurrenceCancelled, "Sunday's lesson is cancelled", "")
	require.NoError(t, svc.Wait(context.Background()))

	failed, err := outbox.ListFailed(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, "gateway rejected")

	fail.Store(false)
	delivered, err := svc.RetryFailed(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	failed, _ = outbox.ListFailed(context.Background(), 5, 10)
	assert.Empty(t, failed)
}

func TestNotificationService_RejectsInvalidNotice(t *testing.T) {
	outbox := memory.NewNotificationRepository()
	svc := NewNotificationService(outbox, NewLogSender(nil), nil, nil, nil, NotificationConfig{})

	svc.Notify(context.Background(), shared.Actor{Kind: shared.ActorSystem}, notification.TypeLowBalance, "x", "")
	svc.Notify(context.Background(), student, notification.TypeLowBalance, "   ", "")
	require.NoError(t, svc.Wait(context.Background()))

	assert.Empty(t, outbox.All())
}

func TestNotificationService_QueueFullDefers(t *testing.T) {
	outbox := memory.NewNotificationRepository()
	release := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, _ *notification.Notification) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	svc := NewNotificationService(outbox, sender, nil, nil, nil, NotificationConfig{MaxInFlight: 1})

	svc.Notify(context.Background(), student, notification.TypeLowBalance, "first", "")
	svc.Notify(context.Background(), student, notification.TypeLowBalance, "second", "")
	close(release)
	require.NoError(t, svc.Wait(context.Background()))

	failed, _ := outbox.ListFailed(context.Background(), 5, 10)
	require.Len(t, failed, 1)
	assert.Equal(t, "second", failed[0].Message)
	assert.Equal(t, "delivery queue full", failed[0].LastError)
}

// ══════════════════════════════════════════════════════════════════════════════
// WALLET
// ══════════════════════════════════════════════════════════════════════════════

type walletFunc func(ctx context.Context, teacher shared.TeacherID, amount shared.Money, ref string) error

func (f walletFunc) ReleaseFunds(ctx context.Context, teacher shared.TeacherID, amount shared.Money, ref string) error {
	return f(ctx, teacher, amount, ref)
}

func TestGuardedWallet_RetriesTransientFailures(t *testing.T) {
	w := memory.NewWallet()
	w.Deposit(teacher, 1000)
	w.FailNext(1)
	obs := &recordingObserver{}

	gw := NewGuardedWallet(w, obs, nil, nil)
	require.NoError(t, gw.ReleaseFunds(context.Background(), teacher, 250, "e-1:2025-03-02"))

	b, err := w.GetBalance(context.Background(), teacher)
	require.NoError(t, err)
	assert.Equal(t, shared.Money(250), b.Available)
	assert.Equal(t, 1, obs.results["release:ok"])
}

func TestGuardedWallet_RejectionIsNotRetried(t *testing.T) {
	var calls int32
	next := walletFunc(func(context.Context, shared.TeacherID, shared.Money, string) error {
		atomic.AddInt32(&calls, 1)
		return shared.ErrInsufficientEscrow
	})
	gw := NewGuardedWallet(next, nil, nil, nil)

	for i := 0; i < 5; i++ {
		err := gw.ReleaseFunds(context.Background(), teacher, 250, "ref")
		assert.ErrorIs(t, err, shared.ErrInsufficientEscrow)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, circuitbreaker.StateClosed, gw.State())
}

func TestGuardedWallet_OpensAfterOutage(t *testing.T) {
	var transitions []circuitbreaker.State
	next := walletFunc(func(ctx context.Context, _ shared.TeacherID, _ shared.Money, _ string) error {
		return shared.ErrWalletUnavailable
	})
	gw := NewGuardedWallet(next, nil, nil, func(_ string, _, to circuitbreaker.State) {
		transitions = append(transitions, to)
	})

	// Skip the retrier's backoff.
	gw.retrier = retry.New(retry.Policy{Attempts: 1})
	for i := 0; i < 3; i++ {
		require.Error(t, gw.ReleaseFunds(context.Background(), teacher, 250, "ref"))
	}

	err := gw.ReleaseFunds(context.Background(), teacher, 250, "ref")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, []circuitbreaker.State{circuitbreaker.StateOpen}, transitions)
}

func TestLogSender(t *testing.T) {
	n, err := notification.NewNotification("n-1", notification.TypePayoutReleased,
		shared.Actor{Kind: shared.ActorTeacher, ID: teacher.String()}, "Payout released", "", time.Now())
	require.NoError(t, err)
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), n))
}
