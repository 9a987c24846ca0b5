package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// RetryNotificationsJobName is the registered name of the job.
const RetryNotificationsJobName = "retry_notifications"

// Redeliverer resends failed notices from the outbox.
type Redeliverer interface {
	RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error)
}

// RetryNotificationsJob resends notices whose delivery failed.
type RetryNotificationsJob struct {
	notifier    Redeliverer
	logger      *slog.Logger
	maxAttempts int
	batch       int
}

// NewRetryNotificationsJob creates the job. A notice is given up after
// maxAttempts deliveries.
func NewRetryNotificationsJob(notifier Redeliverer, logger *slog.Logger, maxAttempts, batch int) *RetryNotificationsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if batch <= 0 {
		batch = 100
	}
	return &RetryNotificationsJob{
		notifier:    notifier,
		logger:      logger.With("job", RetryNotificationsJobName),
		maxAttempts: maxAttempts,
		batch:       batch,
	}
}

// Name returns the job name.
func (j *RetryNotificationsJob) Name() string { return RetryNotificationsJobName }

// Description returns a human-readable description.
func (j *RetryNotificationsJob) Description() string {
	return "Redelivers notifications that the push gateway rejected"
}

// Run redelivers one batch.
func (j *RetryNotificationsJob) Run(ctx context.Context) error {
	n, err := j.notifier.RetryFailed(ctx, j.maxAttempts, j.batch)
	if err != nil {
		return fmt.Errorf("retry_notifications: %w", err)
	}
	if n > 0 {
		j.logger.Info("notifications redelivered", "count", n)
	}
	return nil
}
