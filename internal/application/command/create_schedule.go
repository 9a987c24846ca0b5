package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE SCHEDULE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CreateScheduleCommand contains the data for a new recurring series.
type CreateScheduleCommand struct {
	TeacherID        shared.TeacherID
	Title            string
	Kind             schedule.Kind
	PrivateStudentID shared.StudentID
	GroupStudentIDs  []shared.StudentID
	MeetingID        string
	Rule             recurrence.Params
	TotalSessions    int
	Price            shared.Money

	// Invite starts the private student's enrollment as an invitation
	// (pending_action) instead of waiting for payment.
	Invite bool
}

// Validate validates the command. Rule fields are validated by the domain.
func (c CreateScheduleCommand) Validate() error {
	if !c.TeacherID.IsValid() {
		return shared.NewDomainError("schedule", "Create", shared.ErrInvalidID, "invalid teacher ID")
	}
	if len(strings.TrimSpace(c.Title)) > 200 {
		return shared.NewDomainError("schedule", "Create", shared.ErrValueOutOfRange, "title is too long")
	}
	return nil
}

// CreateScheduleResult contains the new schedule and, for private series,
// the student's enrollment.
type CreateScheduleResult struct {
	Schedule   *schedule.Schedule
	Enrollment *enrollment.Enrollment
}

// CreateScheduleHandler handles CreateScheduleCommand.
type CreateScheduleHandler struct {
	schedules   schedule.Repository
	enrollments enrollment.Repository
	now         func() time.Time
}

// NewCreateScheduleHandler creates a new CreateScheduleHandler.
func NewCreateScheduleHandler(schedules schedule.Repository, enrollments enrollment.Repository, now func() time.Time) *CreateScheduleHandler {
	if now == nil {
		now = time.Now
	}
	return &CreateScheduleHandler{schedules: schedules, enrollments: enrollments, now: now}
}

// Handle executes the command.
func (h *CreateScheduleHandler) Handle(ctx context.Context, cmd CreateScheduleCommand) (*CreateScheduleResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_schedule: validation failed: %w", err)
	}
	now := h.now()

	s, err := schedule.NewSchedule(schedule.NewScheduleParams{
		ID:               shared.ScheduleID(uuid.NewString()),
		TeacherID:        cmd.TeacherID,
		Title:            cmd.Title,
		Kind:             cmd.Kind,
		PrivateStudentID: cmd.PrivateStudentID,
		GroupStudentIDs:  cmd.GroupStudentIDs,
		MeetingID:        cmd.MeetingID,
		Rule:             cmd.Rule,
		TotalSessions:    cmd.TotalSessions,
		Price:            cmd.Price,
		Now:              now,
	})
	if err != nil {
		return nil, fmt.Errorf("create_schedule: %w", err)
	}
	if err := h.schedules.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create_schedule: save schedule: %w", err)
	}

	result := &CreateScheduleResult{Schedule: s}
	for _, student := range s.Students() {
		e, err := enrollment.NewEnrollment(enrollment.NewEnrollmentParams{
			ID:            shared.EnrollmentID(uuid.NewString()),
			ScheduleID:    s.ID,
			StudentID:     student,
			TeacherID:     s.TeacherID,
			TotalSessions: s.TotalSessions,
			Invited:       cmd.Invite && s.IsPrivate(),
			Now:           now,
		})
		if err != nil {
			return nil, fmt.Errorf("create_schedule: %w", err)
		}
		if err := h.enrollments.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("create_schedule: save enrollment: %w", err)
		}
		if s.IsPrivate() {
			result.Enrollment = e
		}
	}
	return result, nil
}
