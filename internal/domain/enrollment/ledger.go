package enrollment

import (
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEDUCTION
// ══════════════════════════════════════════════════════════════════════════════

// Outcome is the result of a deduction attempt.
type Outcome string

const (
	OutcomeDeducted        Outcome = "deducted"
	OutcomeAlreadyDeducted Outcome = "already_deducted"
	OutcomeNotActive       Outcome = "not_active"
	OutcomeNoBalance       Outcome = "no_balance"
)

// DeductionResult describes what DeductOneCredit did.
type DeductionResult struct {
	Outcome   Outcome
	Remaining int

	// Exhausted is true only on the deduction that moved the ledger into
	// no_balance, so the low-balance notice fires once.
	Exhausted bool

	// Release is the payout owed for this session, nil when the consumed
	// credit was not backed by a paid tranche.
	Release *PendingRelease
}

// Applied reports whether the ledger changed.
func (r DeductionResult) Applied() bool {
	return r.Outcome == OutcomeDeducted
}

// DeductOneCredit consumes one credit for the session held on d. Failed
// preconditions are reported through the outcome, never as errors: the
// caller treats them as already settled.
func (e *Enrollment) DeductOneCredit(d shared.Date, now time.Time) DeductionResult {
	if e.HasDeducted(d) {
		return DeductionResult{Outcome: OutcomeAlreadyDeducted, Remaining: e.SessionsRemaining}
	}
	switch {
	case e.Status == StatusNoBalance:
		return DeductionResult{Outcome: OutcomeNoBalance, Remaining: e.SessionsRemaining}
	case e.Status != StatusActive:
		return DeductionResult{Outcome: OutcomeNotActive, Remaining: e.SessionsRemaining}
	case e.SessionsRemaining <= 0:
		return DeductionResult{Outcome: OutcomeNoBalance, Remaining: 0}
	}

	now = now.UTC()
	e.SessionsRemaining--
	res := DeductionResult{Outcome: OutcomeDeducted, Remaining: e.SessionsRemaining}

	mark := Deduction{Date: d, DeductedAt: now}
	for i := range e.Tranches {
		t := &e.Tranches[i]
		if t.Remaining() <= 0 {
			continue
		}
		t.Consumed++
		mark.Tranche = t.Number
		if amount := t.shareOf(t.Consumed); amount > 0 {
			rel := PendingRelease{Date: d, Amount: amount, CreatedAt: now}
			e.Releases = append(e.Releases, rel)
			res.Release = &rel
		}
		break
	}
	e.Deductions = append(e.Deductions, mark)

	if e.SessionsRemaining == 0 {
		e.Status = StatusNoBalance
		if !e.ExhaustedNotified {
			e.ExhaustedNotified = true
			res.Exhausted = true
		}
	}
	e.UpdatedAt = now
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Payment is a confirmed gateway payment for a block of sessions.
type Payment struct {
	// Amount is the gross amount paid by the student.
	Amount shared.Money
	// Fee is the platform fee withheld from the teacher's payout.
	Fee shared.Money
	// Sessions is the number of credits bought.
	Sessions  int
	Reference string
}

func (p Payment) validate() error {
	if p.Sessions <= 0 || p.Amount.IsNegative() || p.Fee.IsNegative() || p.Fee > p.Amount {
		return shared.ErrInvalidPayment
	}
	if strings.TrimSpace(p.Reference) == "" {
		return shared.WrapError("enrollment", "Pay", shared.ErrEmptyValue, "payment reference is required", shared.ErrInvalidPayment)
	}
	return nil
}

func (e *Enrollment) hasPayment(ref string) bool {
	for _, t := range e.Tranches {
		if t.Reference == ref {
			return true
		}
	}
	return false
}

func (e *Enrollment) addTranche(p Payment, now time.Time) {
	e.Tranches = append(e.Tranches, Tranche{
		Number:    len(e.Tranches) + 1,
		Sessions:  p.Sessions,
		Payout:    p.Amount - p.Fee,
		Fee:       p.Fee,
		PaidAt:    now.UTC(),
		Reference: p.Reference,
	})
}

// AcceptInvite activates a private-schedule invitation with the full
// contracted count.
func (e *Enrollment) AcceptInvite(now time.Time) error {
	if e.Status != StatusPendingAction {
		return shared.WrapError("enrollment", "Accept", shared.ErrInvalidState,
			"enrollment is "+string(e.Status), shared.ErrInvalidEnrollmentMove)
	}
	if err := e.transition(StatusActive, now); err != nil {
		return err
	}
	e.SessionsRemaining = e.TotalSessions
	return nil
}

// ConfirmPayment activates a pending enrollment. Sessions defaults to the
// contracted total; the payment's divisor is fixed in a new tranche.
func (e *Enrollment) ConfirmPayment(p Payment, now time.Time) error {
	if p.Sessions == 0 {
		p.Sessions = e.TotalSessions
	}
	if err := p.validate(); err != nil {
		return err
	}
	if e.hasPayment(p.Reference) {
		return shared.NewDomainError("enrollment", "Pay", shared.ErrAlreadyProcessed, "payment already applied")
	}
	if e.Status != StatusPendingPayment {
		return shared.WrapError("enrollment", "Pay", shared.ErrInvalidState,
			"enrollment is "+string(e.Status), shared.ErrInvalidEnrollmentMove)
	}
	if err := e.transition(StatusActive, now); err != nil {
		return err
	}
	e.addTranche(p, now)
	e.SessionsRemaining = p.Sessions
	return nil
}

// TopUp adds paid sessions to an active or exhausted ledger. An exhausted
// ledger becomes active again.
func (e *Enrollment) TopUp(p Payment, now time.Time) error {
	if err := p.validate(); err != nil {
		return err
	}
	if e.hasPayment(p.Reference) {
		return shared.NewDomainError("enrollment", "TopUp", shared.ErrAlreadyProcessed, "payment already applied")
	}
	switch e.Status {
	case StatusActive:
		e.UpdatedAt = now.UTC()
	case StatusNoBalance:
		if err := e.transition(StatusActive, now); err != nil {
			return err
		}
		e.ExhaustedNotified = false
	default:
		return shared.WrapError("enrollment", "TopUp", shared.ErrInvalidState,
			"cannot top up a "+string(e.Status)+" enrollment", shared.ErrInvalidEnrollmentMove)
	}
	e.addTranche(p, now)
	e.SessionsRemaining += p.Sessions
	return nil
}

// Complete closes an active or exhausted enrollment after the schedule end.
func (e *Enrollment) Complete(now time.Time) error {
	return e.transition(StatusCompleted, now)
}

// Cancel ends the enrollment on behalf of the actor. Students cancel as
// themselves; teachers and admins cancel as the teacher side.
func (e *Enrollment) Cancel(by shared.Actor, now time.Time) error {
	switch by.Kind {
	case shared.ActorStudent:
		if shared.StudentID(by.ID) != e.StudentID {
			return shared.NewDomainError("enrollment", "Cancel", shared.ErrForbidden, "not the enrolled student")
		}
		return e.transition(StatusCancelledByStudent, now)
	case shared.ActorTeacher:
		if shared.TeacherID(by.ID) != e.TeacherID {
			return shared.NewDomainError("enrollment", "Cancel", shared.ErrForbidden, "not the schedule teacher")
		}
		return e.transition(StatusCancelledByTeacher, now)
	case shared.ActorAdmin:
		return e.transition(StatusCancelledByTeacher, now)
	default:
		return shared.NewDomainError("enrollment", "Cancel", shared.ErrForbidden, "actor may not cancel")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYOUT RELEASES
// ══════════════════════════════════════════════════════════════════════════════

func (e *Enrollment) release(d shared.Date) (*PendingRelease, error) {
	for i := range e.Releases {
		if e.Releases[i].Date == d {
			return &e.Releases[i], nil
		}
	}
	return nil, shared.ErrReleaseNotFound
}

// MarkReleased records the wallet's confirmation. Marking twice is a no-op.
func (e *Enrollment) MarkReleased(d shared.Date, now time.Time) error {
	r, err := e.release(d)
	if err != nil {
		return err
	}
	if r.IsReleased() {
		return nil
	}
	at := now.UTC()
	r.Attempts++
	r.LastError = ""
	r.ReleasedAt = &at
	e.UpdatedAt = at
	return nil
}

// MarkReleaseFailed records a failed wallet attempt for reconciliation.
func (e *Enrollment) MarkReleaseFailed(d shared.Date, cause error, now time.Time) error {
	r, err := e.release(d)
	if err != nil {
		return err
	}
	r.Attempts++
	if cause != nil {
		r.LastError = cause.Error()
	}
	e.UpdatedAt = now.UTC()
	return nil
}
