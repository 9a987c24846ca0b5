// Package service adapts outbound dependencies (the push gateway, the
// teacher wallet) to the contracts the application layer consumes, adding
// retries and circuit breakers on the way.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/pkg/circuitbreaker"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION SERVICE
// Every notice is written to the outbox first and delivered in the
// background. Failures stay in the outbox for RetryFailed.
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryObserver records delivery attempts. Satisfied by metrics.Metrics.
type DeliveryObserver interface {
	ObserveNotification(noticeType string, err error)
}

// NotificationConfig tunes NotificationService.
type NotificationConfig struct {
	// MaxInFlight bounds concurrent background deliveries (default: 16).
	// A notice raised while the limit is reached is left failed in the
	// outbox.
	MaxInFlight int

	// SendTimeout bounds one delivery including retries (default: 15s).
	SendTimeout time.Duration

	Now func() time.Time
}

// NotificationService implements notification.Notifier.
type NotificationService struct {
	outbox   notification.Repository
	sender   notification.Sender
	breaker  *circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	observer DeliveryObserver
	logger   *slog.Logger
	config   NotificationConfig

	slots chan struct{}
	wg    sync.WaitGroup
}

var _ notification.Notifier = (*NotificationService)(nil)

// NewNotificationService creates a NotificationService. breaker and
// observer may be nil.
func NewNotificationService(
	outbox notification.Repository,
	sender notification.Sender,
	breaker *circuitbreaker.CircuitBreaker,
	observer DeliveryObserver,
	logger *slog.Logger,
	config NotificationConfig,
) *NotificationService {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 16
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 15 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if breaker == nil {
		breaker = circuitbreaker.NotifierBreaker(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		outbox:   outbox,
		sender:   sender,
		breaker:  breaker,
		retrier:  retry.New(retry.Delivery),
		observer: observer,
		logger:   logger.With("component", "notifier"),
		config:   config,
		slots:    make(chan struct{}, config.MaxInFlight),
	}
}

// Notify implements notification.Notifier. It never blocks on delivery and
// never fails the caller.
func (s *NotificationService) Notify(ctx context.Context, recipient shared.Actor, t notification.Type, message, link string) {
	n, err := notification.NewNotification(notification.NotificationID(uuid.NewString()), t, recipient, message, link, s.config.Now())
	if err != nil {
		s.logger.Warn("notice rejected", "type", t, "recipient", recipient.ID, "error", err)
		return
	}

	// The notice outlives the request that raised it.
	ctx = context.WithoutCancel(ctx)
	if err := s.outbox.Save(ctx, n); err != nil {
		s.logger.Error("outbox write failed", "notification_id", n.ID, "error", err)
		return
	}

	select {
	case s.slots <- struct{}{}:
	default:
		n.MarkFailed(errors.New("delivery queue full"))
		s.save(ctx, n)
		s.logger.Warn("delivery deferred", "notification_id", n.ID, "type", n.Type)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		_ = s.deliver(ctx, n)
	}()
}

// RetryFailed redelivers failed notices with fewer than maxAttempts tries
// and returns how many went out.
func (s *NotificationService) RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error) {
	failed, err := s.outbox.ListFailed(ctx, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range failed {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if s.deliver(ctx, n) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Wait blocks until background deliveries finish or ctx ends.
func (s *NotificationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotificationService) deliver(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			return s.sender.Send(ctx, n)
		})
	})
	if s.observer != nil {
		s.observer.ObserveNotification(string(n.Type), err)
	}

	log := s.logger.With("notification_id", n.ID, "type", n.Type, "recipient", n.Recipient.ID)
	if err != nil {
		n.MarkFailed(err)
		log.Warn("notice delivery failed", "attempts", n.Attempts, "error", err)
	} else {
		n.MarkDelivered(s.config.Now())
		log.Debug("notice delivered")
	}
	s.save(context.WithoutCancel(ctx), n)
	return err
}

func (s *NotificationService) save(ctx context.Context, n *notification.Notification) {
	if err := s.outbox.Save(ctx, n); err != nil {
		s.logger.Error("outbox update failed", "notification_id", n.ID, "error", err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG SENDER
// ══════════════════════════════════════════════════════════════════════════════

// LogSender writes notices to the log. Used when no push gateway is
// configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements notification.Sender.
func (s *LogSender) Send(_ context.Context, n *notification.Notification) error {
	s.logger.Info("notice",
		"notification_id", n.ID,
		"type", n.Type,
		"recipient_kind", n.Recipient.Kind,
		"recipient", n.Recipient.ID,
		"message", n.Message,
		"link", n.Link,
	)
	return nil
}
