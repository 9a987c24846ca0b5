package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SCHEDULE COMMAND
// Closes a schedule whose last lesson date has passed, then closes the
// still-running enrollments of its students.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteScheduleCommand identifies the schedule.
type CompleteScheduleCommand struct {
	ScheduleID shared.ScheduleID

	// AsOf is the instant the end date is compared against. Zero means now.
	AsOf time.Time
}

// CompleteScheduleResult reports what was closed.
type CompleteScheduleResult struct {
	// Completed is true when this call moved the schedule to completed.
	Completed   bool
	Enrollments []shared.EnrollmentID
}

// CompleteScheduleHandler handles CompleteScheduleCommand.
type CompleteScheduleHandler struct {
	schedules   schedule.Repository
	enrollments enrollment.Repository
	lifecycle   *EnrollmentLifecycleHandler
	locker      Locker
	config      OccurrenceHandlerConfig
}

// NewCompleteScheduleHandler creates a new CompleteScheduleHandler.
func NewCompleteScheduleHandler(
	schedules schedule.Repository,
	enrollments enrollment.Repository,
	lifecycle *EnrollmentLifecycleHandler,
	locker Locker,
	config OccurrenceHandlerConfig,
) *CompleteScheduleHandler {
	return &CompleteScheduleHandler{
		schedules:   schedules,
		enrollments: enrollments,
		lifecycle:   lifecycle,
		locker:      locker,
		config:      config.withDefaults(),
	}
}

// Handle completes the schedule if it has ended. Enrollments of an already
// completed schedule are still closed, so a partly failed run converges.
func (h *CompleteScheduleHandler) Handle(ctx context.Context, cmd CompleteScheduleCommand) (*CompleteScheduleResult, error) {
	if !cmd.ScheduleID.IsValid() {
		return nil, fmt.Errorf("complete_schedule: validation failed: %w",
			shared.NewDomainError("schedule", "Complete", shared.ErrInvalidID, "invalid schedule ID"))
	}
	asOf := cmd.AsOf
	if asOf.IsZero() {
		asOf = h.config.Now()
	}

	res := &CompleteScheduleResult{}
	var s *schedule.Schedule
	err := withLock(ctx, h.locker, ScheduleLockKey(cmd.ScheduleID), h.config.LockTTL, func(ctx context.Context) error {
		var err error
		s, err = h.schedules.GetByID(ctx, cmd.ScheduleID)
		if err != nil {
			return err
		}
		if !s.Complete(asOf) {
			return nil
		}
		res.Completed = true
		return h.schedules.Update(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("complete_schedule: %w", err)
	}
	if s.Status != schedule.StatusCompleted {
		return res, nil
	}

	var errs []error
	for _, student := range s.Students() {
		e, err := h.enrollments.GetBySchedule(ctx, s.ID, student)
		if err != nil {
			if !shared.IsNotFound(err) {
				errs = append(errs, err)
			}
			continue
		}
		if e.Status != enrollment.StatusActive && e.Status != enrollment.StatusNoBalance {
			continue
		}
		if _, err := h.lifecycle.Complete(ctx, e.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Enrollments = append(res.Enrollments, e.ID)
	}
	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("complete_schedule: %w", err)
	}
	return res, nil
}
