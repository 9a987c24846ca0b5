// Package eventhandler contains domain event handlers. They run after the
// state change that raised the event has been persisted.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BALANCE EXHAUSTED HANDLER
// The ledger raises BalanceExhausted once per move into no_balance. The
// student is asked to top up; the teacher is told lessons are unpaid.
// ═══════════════════════════════════════════════════════════════════════════

// OnBalanceExhaustedHandler sends low-balance notices.
type OnBalanceExhaustedHandler struct {
	notifier notification.Notifier
	logger   *slog.Logger
	config   NotifyConfig
}

// NotifyConfig configures the notification handlers.
type NotifyConfig struct {
	// BaseURL is prefixed to deep links, e.g. "https://halaka.app".
	BaseURL string

	// Timeout bounds one Notify call.
	Timeout time.Duration

	// NotifyTeacher also informs the teacher of the student's balance.
	NotifyTeacher bool
}

// DefaultNotifyConfig returns default configuration.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Timeout:       5 * time.Second,
		NotifyTeacher: true,
	}
}

// NewOnBalanceExhaustedHandler creates a new handler.
func NewOnBalanceExhaustedHandler(notifier notification.Notifier, logger *slog.Logger, config NotifyConfig) *OnBalanceExhaustedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNotifyConfig().Timeout
	}
	return &OnBalanceExhaustedHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_balance_exhausted"),
		config:   config,
	}
}

// Handle processes a BalanceExhaustedEvent.
func (h *OnBalanceExhaustedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.BalanceExhaustedEvent)
	if !ok {
		return fmt.Errorf("on_balance_exhausted: unexpected event type %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	link := h.config.BaseURL + "/enrollments/" + e.EnrollmentID.String()
	h.notifier.Notify(ctx,
		shared.Actor{Kind: shared.ActorStudent, ID: e.StudentID.String()},
		notification.TypeLowBalance,
		"Your lesson credits have run out. Top up to keep your place in the halaka.",
		link,
	)
	if h.config.NotifyTeacher {
		h.notifier.Notify(ctx,
			shared.TeacherActor(e.TeacherID),
			notification.TypeLowBalance,
			"A student on your schedule has no remaining lesson credits.",
			link,
		)
	}

	h.logger.Info("low balance notice raised",
		"enrollment_id", e.EnrollmentID.String(),
		"schedule_id", e.ScheduleID.String(),
	)
	return nil
}
