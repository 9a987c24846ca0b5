package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL OCCURRENCE COMMAND
// A teacher withdraws one upcoming lesson. The series end date moves forward
// so the student still receives every contracted lesson.
// ══════════════════════════════════════════════════════════════════════════════

// CancelOccurrenceCommand contains the data to cancel one lesson date.
type CancelOccurrenceCommand struct {
	ScheduleID shared.ScheduleID
	Date       shared.Date
	Reason     string
	Actor      shared.Actor
}

// Validate validates the command.
func (c CancelOccurrenceCommand) Validate() error {
	if !c.ScheduleID.IsValid() {
		return shared.NewDomainError("schedule", "Cancel", shared.ErrInvalidID, "invalid schedule ID")
	}
	if c.Date.IsZero() {
		return shared.NewDomainError("schedule", "Cancel", shared.ErrEmptyValue, "date is required")
	}
	if !c.Actor.IsValid() {
		return shared.NewDomainError("schedule", "Cancel", shared.ErrUnauthorized, "actor is required")
	}
	if len(c.Reason) > 500 {
		return shared.NewDomainError("schedule", "Cancel", shared.ErrValueOutOfRange, "reason is too long")
	}
	return nil
}

// OccurrenceChangeResult is returned by cancel and restore.
type OccurrenceChangeResult struct {
	ScheduleID shared.ScheduleID
	Date       shared.Date
	OldEndDate shared.Date
	NewEndDate shared.Date
	Events     []shared.Event
}

// OccurrenceHandlerConfig configures the cancel and restore handlers.
type OccurrenceHandlerConfig struct {
	LockTTL time.Duration
	Now     func() time.Time
}

// DefaultOccurrenceHandlerConfig returns default configuration.
func DefaultOccurrenceHandlerConfig() OccurrenceHandlerConfig {
	return OccurrenceHandlerConfig{
		LockTTL: DefaultLockTTL,
		Now:     time.Now,
	}
}

func (c OccurrenceHandlerConfig) withDefaults() OccurrenceHandlerConfig {
	d := DefaultOccurrenceHandlerConfig()
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CancelOccurrenceHandler handles CancelOccurrenceCommand.
type CancelOccurrenceHandler struct {
	schedules schedule.Repository
	locker    Locker
	publisher shared.EventPublisher
	config    OccurrenceHandlerConfig
}

// NewCancelOccurrenceHandler creates a new CancelOccurrenceHandler.
func NewCancelOccurrenceHandler(
	schedules schedule.Repository,
	locker Locker,
	publisher shared.EventPublisher,
	config OccurrenceHandlerConfig,
) *CancelOccurrenceHandler {
	return &CancelOccurrenceHandler{
		schedules: schedules,
		locker:    locker,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command. Domain rejections ("date not in schedule",
// "already cancelled", ...) are returned as *shared.DomainError so callers
// can show the reason.
func (h *CancelOccurrenceHandler) Handle(ctx context.Context, cmd CancelOccurrenceCommand) (*OccurrenceChangeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("cancel_occurrence: validation failed: %w", err)
	}

	var result *OccurrenceChangeResult
	err := withLock(ctx, h.locker, ScheduleLockKey(cmd.ScheduleID), h.config.LockTTL, func(ctx context.Context) error {
		s, err := h.schedules.GetByID(ctx, cmd.ScheduleID)
		if err != nil {
			return err
		}

		change, err := s.CancelOccurrence(cmd.Date, strings.TrimSpace(cmd.Reason), cmd.Actor, h.config.Now())
		if err != nil {
			return err
		}
		if err := h.schedules.Update(ctx, s); err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}

		event := shared.NewOccurrenceCancelledEvent(s.ID, cmd.Date, strings.TrimSpace(cmd.Reason), cmd.Actor, change.NewEndDate, s.Students())
		result = &OccurrenceChangeResult{
			ScheduleID: s.ID,
			Date:       cmd.Date,
			OldEndDate: change.OldEndDate,
			NewEndDate: change.NewEndDate,
			Events:     []shared.Event{event},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel_occurrence: %w", err)
	}

	publishAll(h.publisher, result.Events...)
	return result, nil
}

// Reason extracts the teacher-facing rejection message of err, if any.
func Reason(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Reason()
	}
	return ""
}
