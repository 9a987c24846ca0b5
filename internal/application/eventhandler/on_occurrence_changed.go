package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// OnOccurrenceChangedHandler tells a schedule's students about cancelled
// and restored lessons.
type OnOccurrenceChangedHandler struct {
	notifier notification.Notifier
	logger   *slog.Logger
	config   NotifyConfig
}

// NewOnOccurrenceChangedHandler creates a new handler.
func NewOnOccurrenceChangedHandler(notifier notification.Notifier, logger *slog.Logger, config NotifyConfig) *OnOccurrenceChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNotifyConfig().Timeout
	}
	return &OnOccurrenceChangedHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_occurrence_changed"),
		config:   config,
	}
}

// Handle processes OccurrenceCancelledEvent and OccurrenceRestoredEvent.
func (h *OnOccurrenceChangedHandler) Handle(event shared.Event) error {
	var (
		id         shared.ScheduleID
		recipients []shared.StudentID
		kind       notification.Type
		message    string
	)
	switch e := event.(type) {
	case shared.OccurrenceCancelledEvent:
		id, recipients, kind = e.ScheduleID, e.Recipients, notification.TypeOccurrenceCancelled
		message = fmt.Sprintf("The lesson on %s is cancelled. The series now ends on %s.", e.Date, e.NewEndDate)
		if reason := strings.TrimSpace(e.Reason); reason != "" {
			message += " Reason: " + reason
		}
	case shared.OccurrenceRestoredEvent:
		id, recipients, kind = e.ScheduleID, e.Recipients, notification.TypeOccurrenceRestored
		message = fmt.Sprintf("The lesson on %s is back on. The series now ends on %s.", e.Date, e.NewEndDate)
	default:
		return fmt.Errorf("on_occurrence_changed: unexpected event type %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	link := h.config.BaseURL + "/schedules/" + id.String()
	for _, student := range recipients {
		h.notifier.Notify(ctx, shared.Actor{Kind: shared.ActorStudent, ID: student.String()}, kind, message, link)
	}

	h.logger.Info("occurrence change notices raised",
		"schedule_id", id.String(),
		"type", string(kind),
		"recipients", len(recipients),
	)
	return nil
}
