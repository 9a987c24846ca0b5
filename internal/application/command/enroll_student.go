package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// EnrollStudentCommand adds a student to a group schedule.
type EnrollStudentCommand struct {
	ScheduleID shared.ScheduleID
	StudentID  shared.StudentID
}

// Validate validates the command.
func (c EnrollStudentCommand) Validate() error {
	if !c.ScheduleID.IsValid() || !c.StudentID.IsValid() {
		return shared.NewDomainError("enrollment", "Create", shared.ErrInvalidID, "invalid schedule or student ID")
	}
	return nil
}

// EnrollStudentHandler handles EnrollStudentCommand.
type EnrollStudentHandler struct {
	schedules   schedule.Repository
	enrollments enrollment.Repository
	locker      Locker
	config      OccurrenceHandlerConfig
}

// NewEnrollStudentHandler creates a new EnrollStudentHandler.
func NewEnrollStudentHandler(schedules schedule.Repository, enrollments enrollment.Repository, locker Locker, config OccurrenceHandlerConfig) *EnrollStudentHandler {
	return &EnrollStudentHandler{
		schedules:   schedules,
		enrollments: enrollments,
		locker:      locker,
		config:      config.withDefaults(),
	}
}

// Handle adds the student and creates an enrollment waiting for payment.
func (h *EnrollStudentHandler) Handle(ctx context.Context, cmd EnrollStudentCommand) (*enrollment.Enrollment, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("enroll_student: validation failed: %w", err)
	}

	var e *enrollment.Enrollment
	err := withLock(ctx, h.locker, ScheduleLockKey(cmd.ScheduleID), h.config.LockTTL, func(ctx context.Context) error {
		s, err := h.schedules.GetByID(ctx, cmd.ScheduleID)
		if err != nil {
			return err
		}
		now := h.config.Now()
		if err := s.AddGroupStudent(cmd.StudentID, now); err != nil {
			return err
		}

		e, err = enrollment.NewEnrollment(enrollment.NewEnrollmentParams{
			ID:            shared.EnrollmentID(uuid.NewString()),
			ScheduleID:    s.ID,
			StudentID:     cmd.StudentID,
			TeacherID:     s.TeacherID,
			TotalSessions: s.TotalSessions,
			Now:           now,
		})
		if err != nil {
			return err
		}
		if err := h.enrollments.Create(ctx, e); err != nil {
			return fmt.Errorf("save enrollment: %w", err)
		}
		return h.schedules.Update(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("enroll_student: %w", err)
	}
	return e, nil
}
