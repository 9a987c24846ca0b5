// Package enrollment holds the link between one student and one schedule and
// its session ledger: the remaining credits, the status machine and the
// payout tranches released to the teacher as lessons are delivered.
package enrollment

import (
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// Status is the ledger state of an enrollment.
type Status string

const (
	StatusPendingAction      Status = "pending_action"
	StatusPendingPayment     Status = "pending_payment"
	StatusActive             Status = "active"
	StatusNoBalance          Status = "no_balance"
	StatusCompleted          Status = "completed"
	StatusCancelledByStudent Status = "cancelled_by_student"
	StatusCancelledByTeacher Status = "cancelled_by_teacher"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// transitions lists every allowed move. no_balance -> active is the only
// backwards edge.
var transitions = map[Status][]Status{
	StatusPendingAction:      {StatusActive, StatusCancelledByStudent, StatusCancelledByTeacher},
	StatusPendingPayment:     {StatusActive, StatusCancelledByStudent, StatusCancelledByTeacher},
	StatusActive:             {StatusNoBalance, StatusCompleted, StatusCancelledByStudent, StatusCancelledByTeacher},
	StatusNoBalance:          {StatusActive, StatusCompleted, StatusCancelledByStudent, StatusCancelledByTeacher},
	StatusCompleted:          {},
	StatusCancelledByStudent: {},
	StatusCancelledByTeacher: {},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER PARTS
// ══════════════════════════════════════════════════════════════════════════════

// Tranche is one paid block of sessions. Its divisor is fixed when it is
// paid, so later schedule extensions never change per-session releases.
type Tranche struct {
	Number   int          `json:"number"`
	Sessions int          `json:"sessions"`
	Payout   shared.Money `json:"payout"`
	Fee      shared.Money `json:"fee"`
	Consumed int          `json:"consumed"`
	PaidAt   time.Time    `json:"paid_at"`
	// Reference is the payment reference (gateway transaction ID).
	Reference string `json:"reference"`
}

// Remaining returns the unconsumed sessions of the tranche.
func (t Tranche) Remaining() int {
	return t.Sessions - t.Consumed
}

// shareOf returns the payout of the k-th session (1-based). Shares sum
// exactly to Payout over all sessions.
func (t Tranche) shareOf(k int) shared.Money {
	if t.Sessions <= 0 || k <= 0 || k > t.Sessions {
		return 0
	}
	p, n := int64(t.Payout), int64(t.Sessions)
	return shared.Money(p*int64(k)/n - p*int64(k-1)/n)
}

// Deduction is the per-date dedup marker of a consumed credit.
type Deduction struct {
	Date       shared.Date `json:"date"`
	DeductedAt time.Time   `json:"deducted_at"`
	Tranche    int         `json:"tranche"`
}

// PendingRelease is a payout owed to the teacher for one delivered session.
// It is recorded together with the deduction and marked released once the
// wallet confirms, so a failed wallet call can be reconciled later.
type PendingRelease struct {
	Date       shared.Date  `json:"date"`
	Amount     shared.Money `json:"amount"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ReleasedAt *time.Time   `json:"released_at,omitempty"`
}

// IsReleased reports whether the wallet confirmed the release.
func (p PendingRelease) IsReleased() bool {
	return p.ReleasedAt != nil
}

// Reference is the idempotency key handed to the wallet.
func (p PendingRelease) Reference(id shared.EnrollmentID) string {
	return id.String() + ":" + p.Date.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE: ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// Enrollment is the single source of truth for a student's remaining
// credits on a schedule.
type Enrollment struct {
	ID         shared.EnrollmentID
	ScheduleID shared.ScheduleID
	StudentID  shared.StudentID
	TeacherID  shared.TeacherID

	Status            Status
	SessionsRemaining int

	// TotalSessions is the contracted count of the schedule.
	TotalSessions int

	Tranches   []Tranche
	Deductions []Deduction
	Releases   []PendingRelease

	// ExhaustedNotified is set when the no_balance notice was raised for
	// the current exhaustion and cleared by the next top-up.
	ExhaustedNotified bool

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version guards compare-and-swap updates of the ledger.
	Version int
}

// NewEnrollmentParams holds the inputs of NewEnrollment.
type NewEnrollmentParams struct {
	ID            shared.EnrollmentID
	ScheduleID    shared.ScheduleID
	StudentID     shared.StudentID
	TeacherID     shared.TeacherID
	TotalSessions int
	// Invited starts the enrollment as a private-schedule invitation
	// (pending_action) instead of waiting for payment.
	Invited bool
	Now     time.Time
}

// NewEnrollment creates an enrollment waiting for acceptance or payment.
func NewEnrollment(p NewEnrollmentParams) (*Enrollment, error) {
	if !p.ID.IsValid() || !p.ScheduleID.IsValid() || !p.StudentID.IsValid() || !p.TeacherID.IsValid() {
		return nil, shared.NewDomainError("enrollment", "Create", shared.ErrInvalidID, "enrollment references must be valid IDs")
	}
	if p.TotalSessions <= 0 {
		return nil, shared.ErrInvalidTotalSessions
	}

	status := StatusPendingPayment
	if p.Invited {
		status = StatusPendingAction
	}
	return &Enrollment{
		ID:            p.ID,
		ScheduleID:    p.ScheduleID,
		StudentID:     p.StudentID,
		TeacherID:     p.TeacherID,
		Status:        status,
		TotalSessions: p.TotalSessions,
		CreatedAt:     p.Now.UTC(),
		UpdatedAt:     p.Now.UTC(),
	}, nil
}

// HasDeducted reports whether a credit was already consumed for d.
func (e *Enrollment) HasDeducted(d shared.Date) bool {
	for _, x := range e.Deductions {
		if x.Date == d {
			return true
		}
	}
	return false
}

// UnreleasedPayouts returns the releases the wallet has not confirmed.
func (e *Enrollment) UnreleasedPayouts() []PendingRelease {
	out := make([]PendingRelease, 0)
	for _, r := range e.Releases {
		if !r.IsReleased() {
			out = append(out, r)
		}
	}
	return out
}

// PaidSessions sums the sessions of every tranche.
func (e *Enrollment) PaidSessions() int {
	n := 0
	for _, t := range e.Tranches {
		n += t.Sessions
	}
	return n
}

// transition moves to next or fails with a typed error.
func (e *Enrollment) transition(next Status, now time.Time) error {
	if e.Status.IsTerminal() {
		return shared.WrapError("enrollment", "Transition", shared.ErrInvalidState,
			"enrollment is "+string(e.Status), shared.ErrEnrollmentTerminal)
	}
	if !e.Status.CanTransitionTo(next) {
		return shared.WrapError("enrollment", "Transition", shared.ErrStateTransition,
			string(e.Status)+" -> "+string(next), shared.ErrInvalidEnrollmentMove)
	}
	e.Status = next
	e.UpdatedAt = now.UTC()
	return nil
}
