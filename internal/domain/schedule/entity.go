// Package schedule holds the Schedule aggregate: a teacher's recurring lesson
// series with its recurrence rule, the cancelled occurrences and the
// attendance recorded per lesson date.
package schedule

import (
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Kind distinguishes one-to-one schedules from group classes.
type Kind string

const (
	// KindPrivate has exactly one student.
	KindPrivate Kind = "private"
	// KindGroup has an enrolled set of students.
	KindGroup Kind = "group"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindPrivate || k == KindGroup
}

// Status is the lifecycle state of the whole schedule.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE: SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// Schedule exclusively owns its rule, its cancellation set and its
// attendance list. Callers mutate it through methods, then persist it
// explicitly; nothing here performs I/O.
type Schedule struct {
	ID        shared.ScheduleID
	TeacherID shared.TeacherID
	Title     string
	Kind      Kind
	Status    Status

	// PrivateStudentID is set for private schedules only.
	PrivateStudentID shared.StudentID

	// GroupStudentIDs is the enrolled set of a group schedule.
	GroupStudentIDs []shared.StudentID

	// MeetingID is the meeting-platform room identifier of the series.
	MeetingID string

	Rule          recurrence.Rule
	TotalSessions int

	// Price is the total contracted price of TotalSessions.
	Price shared.Money

	Cancellations []CancelledOccurrence
	Attendance    []AttendanceEntry

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is bumped by the repository on every successful update.
	Version int
}

// NewScheduleParams holds the inputs of NewSchedule.
type NewScheduleParams struct {
	ID               shared.ScheduleID
	TeacherID        shared.TeacherID
	Title            string
	Kind             Kind
	PrivateStudentID shared.StudentID
	GroupStudentIDs  []shared.StudentID
	MeetingID        string
	Rule             recurrence.Params
	TotalSessions    int
	Price            shared.Money
	Now              time.Time
}

// NewSchedule validates params and creates an active schedule. The rule's
// end date is derived from TotalSessions so that the series always delivers
// exactly the contracted count.
func NewSchedule(p NewScheduleParams) (*Schedule, error) {
	if !p.ID.IsValid() {
		return nil, shared.NewDomainError("schedule", "Create", shared.ErrInvalidID, "invalid schedule ID")
	}
	if !p.TeacherID.IsValid() {
		return nil, shared.NewDomainError("schedule", "Create", shared.ErrInvalidID, "invalid teacher ID")
	}
	if !p.Kind.IsValid() {
		return nil, shared.ErrInvalidScheduleKind
	}
	if p.Kind == KindPrivate && !p.PrivateStudentID.IsValid() {
		return nil, shared.ErrMissingPrivateStudent
	}
	if p.TotalSessions <= 0 {
		return nil, shared.ErrInvalidTotalSessions
	}
	if p.Price.IsNegative() {
		return nil, shared.NewDomainError("schedule", "Create", shared.ErrNegativeValue, "price cannot be negative")
	}

	// The end date is advisory; the contracted count decides it below.
	params := p.Rule
	if params.EndDate.IsZero() {
		params.EndDate = params.StartDate
	}
	rule, err := recurrence.NewRule(params)
	if err != nil {
		return nil, err
	}
	end, err := recurrence.NewEndDate(rule, p.TotalSessions, nil)
	if err != nil {
		return nil, err
	}

	s := &Schedule{
		ID:            p.ID,
		TeacherID:     p.TeacherID,
		Title:         strings.TrimSpace(p.Title),
		Kind:          p.Kind,
		Status:        StatusActive,
		MeetingID:     strings.TrimSpace(p.MeetingID),
		Rule:          rule.WithEndDate(end),
		TotalSessions: p.TotalSessions,
		Price:         p.Price,
		CreatedAt:     p.Now.UTC(),
		UpdatedAt:     p.Now.UTC(),
	}
	if p.Kind == KindPrivate {
		s.PrivateStudentID = p.PrivateStudentID
	} else {
		s.GroupStudentIDs = uniqueStudents(p.GroupStudentIDs)
	}
	return s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Participants
// ─────────────────────────────────────────────────────────────────────────────

// IsPrivate reports whether the schedule has a single student.
func (s *Schedule) IsPrivate() bool {
	return s.Kind == KindPrivate
}

// IsParticipant reports whether the student may produce attendance: the
// private student, or a member of the group set.
func (s *Schedule) IsParticipant(id shared.StudentID) bool {
	if id == "" {
		return false
	}
	if s.IsPrivate() {
		return s.PrivateStudentID == id
	}
	for _, g := range s.GroupStudentIDs {
		if g == id {
			return true
		}
	}
	return false
}

// Students returns every participant of the schedule.
func (s *Schedule) Students() []shared.StudentID {
	if s.IsPrivate() {
		return []shared.StudentID{s.PrivateStudentID}
	}
	out := make([]shared.StudentID, len(s.GroupStudentIDs))
	copy(out, s.GroupStudentIDs)
	return out
}

// AddGroupStudent enrolls a student into a group schedule.
func (s *Schedule) AddGroupStudent(id shared.StudentID, now time.Time) error {
	if s.IsPrivate() {
		return shared.NewDomainError("schedule", "AddStudent", shared.ErrInvalidState, "private schedule has a fixed student")
	}
	if !id.IsValid() {
		return shared.NewDomainError("schedule", "AddStudent", shared.ErrInvalidID, "invalid student ID")
	}
	if s.IsParticipant(id) {
		return nil
	}
	s.GroupStudentIDs = append(s.GroupStudentIDs, id)
	s.UpdatedAt = now.UTC()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Calendar
// ─────────────────────────────────────────────────────────────────────────────

// Location returns the schedule's time zone.
func (s *Schedule) Location() *time.Location {
	return s.Rule.Location()
}

// Today returns the current calendar date in the schedule's zone.
func (s *Schedule) Today(now time.Time) shared.Date {
	return shared.DateIn(now, s.Location())
}

// InWindow reports whether d lies within StartDate..EndDate.
func (s *Schedule) InWindow(d shared.Date) bool {
	return !d.Before(s.Rule.StartDate) && !d.After(s.Rule.EndDate)
}

// Generates reports whether d is a generated occurrence inside the window.
// Cancelled dates still count as generated.
func (s *Schedule) Generates(d shared.Date) bool {
	return s.InWindow(d) && s.Rule.IsOccurrence(d)
}

// HasEnded reports whether the last lesson date lies before today.
func (s *Schedule) HasEnded(now time.Time) bool {
	return s.Rule.EndDate.Before(s.Today(now))
}

// Occurrences lists every generated occurrence of the current window, with
// cancelled ones included.
func (s *Schedule) Occurrences() []recurrence.Occurrence {
	return s.Rule.Between(s.Rule.StartDate, s.Rule.EndDate)
}

// Deliverable lists the contracted, non-cancelled occurrences.
func (s *Schedule) Deliverable() []recurrence.Occurrence {
	return recurrence.Deliverable(s.Rule, s.TotalSessions, s.CancelledDates())
}

// Complete marks the schedule completed once its end date has passed.
func (s *Schedule) Complete(now time.Time) bool {
	if s.Status != StatusActive || !s.HasEnded(now) {
		return false
	}
	s.Status = StatusCompleted
	s.UpdatedAt = now.UTC()
	return true
}

func uniqueStudents(ids []shared.StudentID) []shared.StudentID {
	seen := make(map[shared.StudentID]bool, len(ids))
	out := make([]shared.StudentID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
