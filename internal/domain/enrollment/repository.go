package enrollment

import (
	"context"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// Repository persists enrollments.
type Repository interface {
	// Create stores a new enrollment.
	// Returns shared.ErrAlreadyExists if the (schedule, student) pair is taken.
	Create(ctx context.Context, e *Enrollment) error

	// GetByID returns the enrollment.
	// Returns shared.ErrEnrollmentNotFound if it does not exist.
	GetByID(ctx context.Context, id shared.EnrollmentID) (*Enrollment, error)

	// GetBySchedule returns the enrollment tying a student to a schedule.
	// Returns shared.ErrEnrollmentNotFound if there is none.
	GetBySchedule(ctx context.Context, scheduleID shared.ScheduleID, studentID shared.StudentID) (*Enrollment, error)

	// UpdateLedger is the compare-and-swap write of the ledger: it saves e
	// only if the stored version equals expectedVersion, then sets
	// e.Version to expectedVersion+1. A lost race returns
	// shared.ErrLedgerConflict and leaves storage untouched.
	UpdateLedger(ctx context.Context, e *Enrollment, expectedVersion int) error

	// ListByStatus returns enrollments in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Enrollment, error)

	// ListWithUnreleasedPayouts returns enrollments that still owe the
	// teacher at least one payout release.
	ListWithUnreleasedPayouts(ctx context.Context, limit int) ([]*Enrollment, error)
}
