package command

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT LIFECYCLE COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentActionCommand targets one enrollment on behalf of an actor.
type EnrollmentActionCommand struct {
	EnrollmentID shared.EnrollmentID
	Actor        shared.Actor
}

// Validate validates the command.
func (c EnrollmentActionCommand) Validate() error {
	if !c.EnrollmentID.IsValid() {
		return shared.NewDomainError("enrollment", "Validate", shared.ErrInvalidID, "invalid enrollment ID")
	}
	if !c.Actor.IsValid() {
		return shared.NewDomainError("enrollment", "Validate", shared.ErrUnauthorized, "actor is required")
	}
	return nil
}

// EnrollmentLifecycleHandler accepts invitations, cancels and completes
// enrollments.
type EnrollmentLifecycleHandler struct {
	writer    ledgerWriter
	publisher shared.EventPublisher
	now       func() time.Time
}

// NewEnrollmentLifecycleHandler creates a new EnrollmentLifecycleHandler.
func NewEnrollmentLifecycleHandler(enrollments enrollment.Repository, locker Locker, publisher shared.EventPublisher, config OccurrenceHandlerConfig) *EnrollmentLifecycleHandler {
	config = config.withDefaults()
	return &EnrollmentLifecycleHandler{
		writer:    newLedgerWriter(enrollments, locker, config.LockTTL),
		publisher: publisher,
		now:       config.Now,
	}
}

// Accept activates an invitation. Only the invited student (or an admin)
// may accept.
func (h *EnrollmentLifecycleHandler) Accept(ctx context.Context, cmd EnrollmentActionCommand) (*enrollment.Enrollment, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("accept_invite: validation failed: %w", err)
	}
	e, events, err := h.writer.apply(ctx, cmd.EnrollmentID, func(e *enrollment.Enrollment) error {
		if !canActAsStudent(cmd.Actor, e) {
			return shared.NewDomainError("enrollment", "Accept", shared.ErrForbidden, "not the invited student")
		}
		return e.AcceptInvite(h.now())
	})
	if err != nil {
		return nil, fmt.Errorf("accept_invite: %w", err)
	}
	publishAll(h.publisher, events...)
	return e, nil
}

// Cancel ends the enrollment. The terminal status depends on who cancels.
func (h *EnrollmentLifecycleHandler) Cancel(ctx context.Context, cmd EnrollmentActionCommand) (*enrollment.Enrollment, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("cancel_enrollment: validation failed: %w", err)
	}
	e, events, err := h.writer.apply(ctx, cmd.EnrollmentID, func(e *enrollment.Enrollment) error {
		return e.Cancel(cmd.Actor, h.now())
	})
	if err != nil {
		return nil, fmt.Errorf("cancel_enrollment: %w", err)
	}
	publishAll(h.publisher, events...)
	return e, nil
}

// Complete closes an enrollment whose schedule has ended.
func (h *EnrollmentLifecycleHandler) Complete(ctx context.Context, id shared.EnrollmentID) (*enrollment.Enrollment, error) {
	e, events, err := h.writer.apply(ctx, id, func(e *enrollment.Enrollment) error {
		return e.Complete(h.now())
	})
	if err != nil {
		return nil, fmt.Errorf("complete_enrollment: %w", err)
	}
	publishAll(h.publisher, events...)
	return e, nil
}

func canActAsStudent(a shared.Actor, e *enrollment.Enrollment) bool {
	switch a.Kind {
	case shared.ActorAdmin, shared.ActorSystem:
		return true
	case shared.ActorStudent:
		return shared.StudentID(a.ID) == e.StudentID
	default:
		return false
	}
}
