// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MUTUAL EXCLUSION
// Read-modify-write of a schedule or a ledger runs under a lock on its key.
// The repository's version check is the second line: a writer that lost its
// lock (TTL expiry) still cannot overwrite newer state.
// ══════════════════════════════════════════════════════════════════════════════

// Locker serializes work on one key across goroutines and processes.
type Locker interface {
	// Acquire blocks until the lock on key is held or ctx ends. Returns
	// shared.ErrLockNotAcquired when the wait gives up. The returned
	// release func is safe to call once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// DefaultLockTTL bounds how long a crashed holder can block a key.
const DefaultLockTTL = 30 * time.Second

// ScheduleLockKey is the lock key of a schedule aggregate.
func ScheduleLockKey(id shared.ScheduleID) string {
	return "schedule:" + id.String()
}

// LedgerLockKey is the lock key of the ledger tying student to schedule.
func LedgerLockKey(scheduleID shared.ScheduleID, studentID shared.StudentID) string {
	return "ledger:" + scheduleID.String() + ":" + studentID.String()
}

// withLock runs fn while holding key.
func withLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	release, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		// Release on a fresh context so a cancelled caller still unlocks.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = release(rctx)
	}()
	return fn(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER WRITES
// ══════════════════════════════════════════════════════════════════════════════

// ledgerMutation changes an enrollment in memory. Returning false skips the
// write (nothing changed).
type ledgerMutation func(e *enrollment.Enrollment) (bool, error)

// updateLedger loads the enrollment, applies mutate and saves it with a
// version check, reloading and retrying on lost races.
func updateLedger(
	ctx context.Context,
	repo enrollment.Repository,
	retrier *retry.Retrier,
	load func(ctx context.Context) (*enrollment.Enrollment, error),
	mutate ledgerMutation,
) (*enrollment.Enrollment, error) {
	var saved *enrollment.Enrollment
	err := retrier.Do(ctx, func(ctx context.Context) error {
		e, err := load(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		changed, err := mutate(e)
		if err != nil {
			return retry.Permanent(err)
		}
		if changed {
			if err := repo.UpdateLedger(ctx, e, e.Version); err != nil {
				return err
			}
		}
		saved = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// newLedgerRetrier retries only ledger conflicts.
func newLedgerRetrier() *retry.Retrier {
	return retry.New(retry.Ledger, retry.RetryOn(shared.ErrLedgerConflict))
}

// publishAll publishes events after the state change was persisted. Bus
// errors never undo a committed change.
func publishAll(pub shared.EventPublisher, events ...shared.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		_ = pub.Publish(e)
	}
}

// ledgerWriter runs lifecycle mutations of one enrollment under its ledger
// lock and reports the status move as an event.
type ledgerWriter struct {
	enrollments enrollment.Repository
	locker      Locker
	retrier     *retry.Retrier
	lockTTL     time.Duration
}

func newLedgerWriter(enrollments enrollment.Repository, locker Locker, lockTTL time.Duration) ledgerWriter {
	return ledgerWriter{
		enrollments: enrollments,
		locker:      locker,
		retrier:     newLedgerRetrier(),
		lockTTL:     lockTTL,
	}
}

// apply mutates the enrollment id and returns it with the events to publish.
func (w ledgerWriter) apply(ctx context.Context, id shared.EnrollmentID, mutate func(e *enrollment.Enrollment) error) (*enrollment.Enrollment, []shared.Event, error) {
	current, err := w.enrollments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var saved *enrollment.Enrollment
	var from enrollment.Status
	err = withLock(ctx, w.locker, LedgerLockKey(current.ScheduleID, current.StudentID), w.lockTTL, func(ctx context.Context) error {
		load := func(ctx context.Context) (*enrollment.Enrollment, error) {
			return w.enrollments.GetByID(ctx, id)
		}
		e, err := updateLedger(ctx, w.enrollments, w.retrier, load, func(e *enrollment.Enrollment) (bool, error) {
			from = e.Status
			if err := mutate(e); err != nil {
				return false, err
			}
			return true, nil
		})
		saved = e
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var events []shared.Event
	if saved.Status != from {
		events = append(events, shared.NewEnrollmentStatusChangedEvent(saved.ID, string(from), string(saved.Status)))
	}
	return saved, events, nil
}
