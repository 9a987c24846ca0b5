package command

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEDUCT CREDIT COMMAND
// Consumes one session credit for a delivered lesson and releases the
// teacher's share. Safe to repeat: the ledger keeps one marker per date.
// ══════════════════════════════════════════════════════════════════════════════

// SkipReason explains why a session was not charged.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipNotGenerated  SkipReason = "not_generated"
	SkipCancelled     SkipReason = "cancelled"
	SkipNotPresent    SkipReason = "not_present"
	SkipNotEnrolled   SkipReason = "not_enrolled"
	SkipLedgerSettled SkipReason = "ledger_settled"
)

// DeductCreditCommand identifies one session of one student.
type DeductCreditCommand struct {
	ScheduleID shared.ScheduleID
	StudentID  shared.StudentID
	Date       shared.Date
}

// Validate validates the command.
func (c DeductCreditCommand) Validate() error {
	if !c.ScheduleID.IsValid() || !c.StudentID.IsValid() {
		return shared.NewDomainError("enrollment", "Deduct", shared.ErrInvalidID, "invalid schedule or student ID")
	}
	if c.Date.IsZero() {
		return shared.NewDomainError("enrollment", "Deduct", shared.ErrEmptyValue, "date is required")
	}
	return nil
}

// DeductCreditResult describes the deduction.
type DeductCreditResult struct {
	EnrollmentID shared.EnrollmentID
	Outcome      enrollment.Outcome
	Skipped      SkipReason
	Remaining    int
	Exhausted    bool

	// Released is the payout moved to the teacher, zero when none.
	Released shared.Money

	// ReleaseErr is set when the wallet call failed. The credit is still
	// deducted; the release stays pending for reconciliation.
	ReleaseErr error
}

// Deducted reports whether a credit was consumed by this call.
func (r *DeductCreditResult) Deducted() bool {
	return r.Outcome == enrollment.OutcomeDeducted
}

// DeductCreditHandler handles DeductCreditCommand.
type DeductCreditHandler struct {
	schedules   schedule.Repository
	enrollments enrollment.Repository
	locker      Locker
	releaser    *ReleasePayoutHandler
	publisher   shared.EventPublisher
	ledger      *retry.Retrier
	lockTTL     time.Duration
	now         func() time.Time
}

// NewDeductCreditHandler creates a new DeductCreditHandler. releaser may be
// nil, in which case releases stay pending for the reconciliation job.
func NewDeductCreditHandler(
	schedules schedule.Repository,
	enrollments enrollment.Repository,
	locker Locker,
	releaser *ReleasePayoutHandler,
	publisher shared.EventPublisher,
	config OccurrenceHandlerConfig,
) *DeductCreditHandler {
	config = config.withDefaults()
	return &DeductCreditHandler{
		schedules:   schedules,
		enrollments: enrollments,
		locker:      locker,
		releaser:    releaser,
		publisher:   publisher,
		ledger:      newLedgerRetrier(),
		lockTTL:     config.LockTTL,
		now:         config.Now,
	}
}

// Handle checks that the session is chargeable and deducts one credit.
func (h *DeductCreditHandler) Handle(ctx context.Context, cmd DeductCreditCommand) (*DeductCreditResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("deduct_credit: validation failed: %w", err)
	}

	s, err := h.schedules.GetByID(ctx, cmd.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("deduct_credit: %w", err)
	}
	if skip := chargeable(s, cmd.Date, cmd.StudentID); skip != SkipNone {
		return &DeductCreditResult{Skipped: skip}, nil
	}

	result := &DeductCreditResult{}
	var events []shared.Event
	var release *enrollment.PendingRelease

	err = withLock(ctx, h.locker, LedgerLockKey(cmd.ScheduleID, cmd.StudentID), h.lockTTL, func(ctx context.Context) error {
		load := func(ctx context.Context) (*enrollment.Enrollment, error) {
			return h.enrollments.GetBySchedule(ctx, cmd.ScheduleID, cmd.StudentID)
		}
		var res enrollment.DeductionResult
		var from enrollment.Status
		e, err := updateLedger(ctx, h.enrollments, h.ledger, load, func(e *enrollment.Enrollment) (bool, error) {
			from = e.Status
			res = e.DeductOneCredit(cmd.Date, h.now())
			return res.Applied(), nil
		})
		if err != nil {
			return err
		}

		result.EnrollmentID = e.ID
		result.Outcome = res.Outcome
		result.Remaining = res.Remaining
		result.Exhausted = res.Exhausted
		if !res.Applied() {
			result.Skipped = SkipLedgerSettled
			return nil
		}
		release = res.Release

		events = append(events, shared.NewCreditDeductedEvent(e.ID, e.ScheduleID, e.StudentID, cmd.Date, res.Remaining))
		if e.Status != from {
			events = append(events, shared.NewEnrollmentStatusChangedEvent(e.ID, string(from), string(e.Status)))
		}
		if res.Exhausted {
			events = append(events, shared.NewBalanceExhaustedEvent(e.ID, e.ScheduleID, e.StudentID, e.TeacherID))
		}
		return nil
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return &DeductCreditResult{Skipped: SkipNotEnrolled}, nil
		}
		return nil, fmt.Errorf("deduct_credit: %w", err)
	}

	publishAll(h.publisher, events...)

	if release != nil && h.releaser != nil {
		rr, err := h.releaser.Handle(ctx, ReleasePayoutCommand{EnrollmentID: result.EnrollmentID, Date: cmd.Date})
		if err != nil {
			result.ReleaseErr = err
		} else {
			result.Released = rr.Amount
		}
	}
	return result, nil
}

// chargeable reports why the (date, student) session must not be charged.
func chargeable(s *schedule.Schedule, d shared.Date, student shared.StudentID) SkipReason {
	switch {
	case !s.Generates(d):
		return SkipNotGenerated
	case s.IsCancelled(d):
		return SkipCancelled
	case !s.WasPresent(d, student):
		return SkipNotPresent
	}
	return SkipNone
}
