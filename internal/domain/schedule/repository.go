package schedule

import (
	"context"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists Schedule aggregates as a whole: rule, cancellations
// and attendance are saved together.
type Repository interface {
	// Create stores a new schedule.
	// Returns shared.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, s *Schedule) error

	// GetByID returns the schedule.
	// Returns shared.ErrScheduleNotFound if it does not exist.
	GetByID(ctx context.Context, id shared.ScheduleID) (*Schedule, error)

	// GetByMeetingID resolves a meeting-platform room to its schedule.
	// Returns shared.ErrScheduleNotFound if no schedule uses the room.
	GetByMeetingID(ctx context.Context, meetingID string) (*Schedule, error)

	// Update saves s if its Version still matches the stored one and then
	// increments s.Version. Returns shared.ErrConcurrentModification when
	// another writer got there first.
	Update(ctx context.Context, s *Schedule) error

	// ListActive returns active schedules, optionally filtered by kind.
	ListActive(ctx context.Context, filter ListFilter) ([]*Schedule, error)
}

// ListFilter narrows ListActive.
type ListFilter struct {
	// Kind filters by schedule kind when non-empty.
	Kind Kind

	// TeacherID filters by teacher when non-empty.
	TeacherID shared.TeacherID

	Limit  int
	Offset int
}

// ParticipantDirectory resolves external meeting identities to students.
type ParticipantDirectory interface {
	// ResolveStudent maps a participant identity (platform user ID or
	// email) to a student. Returns shared.ErrUnknownParticipant when the
	// identity is not linked to any student.
	ResolveStudent(ctx context.Context, identity string) (shared.StudentID, error)
}
