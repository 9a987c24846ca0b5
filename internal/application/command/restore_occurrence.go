package command

import (
	"context"
	"fmt"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// RestoreOccurrenceCommand withdraws a cancellation before its date passes.
type RestoreOccurrenceCommand struct {
	ScheduleID shared.ScheduleID
	Date       shared.Date
	Actor      shared.Actor
}

// Validate validates the command.
func (c RestoreOccurrenceCommand) Validate() error {
	if !c.ScheduleID.IsValid() {
		return shared.NewDomainError("schedule", "Restore", shared.ErrInvalidID, "invalid schedule ID")
	}
	if c.Date.IsZero() {
		return shared.NewDomainError("schedule", "Restore", shared.ErrEmptyValue, "date is required")
	}
	if !c.Actor.IsValid() {
		return shared.NewDomainError("schedule", "Restore", shared.ErrUnauthorized, "actor is required")
	}
	return nil
}

// RestoreOccurrenceHandler handles RestoreOccurrenceCommand. It shares the
// end-date computation with cancellation, so restore is its exact inverse.
type RestoreOccurrenceHandler struct {
	schedules schedule.Repository
	locker    Locker
	publisher shared.EventPublisher
	config    OccurrenceHandlerConfig
}

// NewRestoreOccurrenceHandler creates a new RestoreOccurrenceHandler.
func NewRestoreOccurrenceHandler(
	schedules schedule.Repository,
	locker Locker,
	publisher shared.EventPublisher,
	config OccurrenceHandlerConfig,
) *RestoreOccurrenceHandler {
	return &RestoreOccurrenceHandler{
		schedules: schedules,
		locker:    locker,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *RestoreOccurrenceHandler) Handle(ctx context.Context, cmd RestoreOccurrenceCommand) (*OccurrenceChangeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("restore_occurrence: validation failed: %w", err)
	}

	var result *OccurrenceChangeResult
	err := withLock(ctx, h.locker, ScheduleLockKey(cmd.ScheduleID), h.config.LockTTL, func(ctx context.Context) error {
		s, err := h.schedules.GetByID(ctx, cmd.ScheduleID)
		if err != nil {
			return err
		}

		change, err := s.RestoreOccurrence(cmd.Date, cmd.Actor, h.config.Now())
		if err != nil {
			return err
		}
		if err := h.schedules.Update(ctx, s); err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}

		result = &OccurrenceChangeResult{
			ScheduleID: s.ID,
			Date:       cmd.Date,
			OldEndDate: change.OldEndDate,
			NewEndDate: change.NewEndDate,
			Events: []shared.Event{
				shared.NewOccurrenceRestoredEvent(s.ID, cmd.Date, change.NewEndDate, s.Students()),
			},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore_occurrence: %w", err)
	}

	publishAll(h.publisher, result.Events...)
	return result, nil
}
