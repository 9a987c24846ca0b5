package command

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// OverrideAttendanceCommand sets a student's status for one lesson date by
// hand (teacher or admin correction).
type OverrideAttendanceCommand struct {
	ScheduleID shared.ScheduleID
	Date       shared.Date
	StudentID  shared.StudentID
	Status     string
	Actor      shared.Actor

	// At orders the override against meeting events. Defaults to now.
	At time.Time
}

// Validate validates the command.
func (c OverrideAttendanceCommand) Validate() error {
	if !c.ScheduleID.IsValid() || !c.StudentID.IsValid() {
		return shared.NewDomainError("attendance", "Override", shared.ErrInvalidID, "invalid schedule or student ID")
	}
	if c.Date.IsZero() {
		return shared.NewDomainError("attendance", "Override", shared.ErrEmptyValue, "date is required")
	}
	if _, err := schedule.ParseAttendanceStatus(c.Status); err != nil {
		return err
	}
	if !c.Actor.IsValid() {
		return shared.NewDomainError("attendance", "Override", shared.ErrUnauthorized, "actor is required")
	}
	return nil
}

// OverrideAttendanceResult reports whether the override won.
type OverrideAttendanceResult struct {
	Applied bool
	Record  schedule.StudentAttendanceRecord
}

// OverrideAttendanceHandler handles OverrideAttendanceCommand.
type OverrideAttendanceHandler struct {
	schedules schedule.Repository
	locker    Locker
	config    OccurrenceHandlerConfig
}

// NewOverrideAttendanceHandler creates a new OverrideAttendanceHandler.
func NewOverrideAttendanceHandler(schedules schedule.Repository, locker Locker, config OccurrenceHandlerConfig) *OverrideAttendanceHandler {
	return &OverrideAttendanceHandler{
		schedules: schedules,
		locker:    locker,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *OverrideAttendanceHandler) Handle(ctx context.Context, cmd OverrideAttendanceCommand) (*OverrideAttendanceResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("override_attendance: validation failed: %w", err)
	}
	status, _ := schedule.ParseAttendanceStatus(cmd.Status)
	at := cmd.At
	if at.IsZero() {
		at = h.config.Now()
	}

	result := &OverrideAttendanceResult{}
	err := withLock(ctx, h.locker, ScheduleLockKey(cmd.ScheduleID), h.config.LockTTL, func(ctx context.Context) error {
		s, err := h.schedules.GetByID(ctx, cmd.ScheduleID)
		if err != nil {
			return err
		}
		applied, err := s.OverrideStatus(cmd.Date, cmd.StudentID, status, cmd.Actor, at)
		if err != nil {
			return err
		}
		if applied {
			if err := h.schedules.Update(ctx, s); err != nil {
				return fmt.Errorf("save schedule: %w", err)
			}
		}
		result.Applied = applied
		result.Record = s.AttendanceFor(cmd.Date, cmd.StudentID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("override_attendance: %w", err)
	}
	return result, nil
}
