package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// OnPayoutReleasedHandler tells the teacher a session payout reached the
// available balance.
type OnPayoutReleasedHandler struct {
	notifier notification.Notifier
	logger   *slog.Logger
	config   NotifyConfig
}

// NewOnPayoutReleasedHandler creates a new handler.
func NewOnPayoutReleasedHandler(notifier notification.Notifier, logger *slog.Logger, config NotifyConfig) *OnPayoutReleasedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNotifyConfig().Timeout
	}
	return &OnPayoutReleasedHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_payout_released"),
		config:   config,
	}
}

// Handle processes a PayoutReleasedEvent.
func (h *OnPayoutReleasedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.PayoutReleasedEvent)
	if !ok {
		return fmt.Errorf("on_payout_released: unexpected event type %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.notifier.Notify(ctx,
		shared.TeacherActor(e.TeacherID),
		notification.TypePayoutReleased,
		fmt.Sprintf("%s for the lesson on %s is now available in your wallet.", e.Amount, e.Date),
		h.config.BaseURL+"/wallet",
	)
	h.logger.Debug("payout notice raised", "enrollment_id", e.EnrollmentID.String(), "date", e.Date.String())
	return nil
}
