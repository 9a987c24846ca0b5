package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE PAYOUTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcilePayoutsJobName is the registered name of the job.
const ReconcilePayoutsJobName = "reconcile_payouts"

// Releaser moves one pending payout to the teacher's wallet.
type Releaser interface {
	Handle(ctx context.Context, cmd command.ReleasePayoutCommand) (*command.ReleasePayoutResult, error)
}

// ReconcileConfig contains configuration for the reconciliation job.
type ReconcileConfig struct {
	// BatchSize caps the enrollments loaded per run.
	BatchSize int

	// MaxAttempts stops retrying a release after this many wallet failures;
	// it then waits for manual handling. Zero means no cap.
	MaxAttempts int
}

// DefaultReconcileConfig returns sensible defaults.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{BatchSize: 500, MaxAttempts: 20}
}

// ReconcileStats contains the counts of one run.
type ReconcileStats struct {
	Duration time.Duration
	Pending  int
	Released int
	Amount   shared.Money
	Failed   int
	GivenUp  int
}

// ReconcilePayoutsJob retries payout releases whose wallet call failed.
type ReconcilePayoutsJob struct {
	enrollments enrollment.Repository
	releaser    Releaser
	logger      *slog.Logger
	config      ReconcileConfig

	lastStats atomic.Pointer[ReconcileStats]
}

// NewReconcilePayoutsJob creates the job.
func NewReconcilePayoutsJob(enrollments enrollment.Repository, releaser Releaser, logger *slog.Logger, config ReconcileConfig) *ReconcilePayoutsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcileConfig().BatchSize
	}
	return &ReconcilePayoutsJob{
		enrollments: enrollments,
		releaser:    releaser,
		logger:      logger.With("job", ReconcilePayoutsJobName),
		config:      config,
	}
}

// Name returns the job name.
func (j *ReconcilePayoutsJob) Name() string { return ReconcilePayoutsJobName }

// Description returns a human-readable description.
func (j *ReconcilePayoutsJob) Description() string {
	return "Retries teacher payout releases that the wallet did not confirm"
}

// LastStats returns the stats of the most recent run.
func (j *ReconcilePayoutsJob) LastStats() *ReconcileStats {
	return j.lastStats.Load()
}

// Run retries every unreleased payout.
func (j *ReconcilePayoutsJob) Run(ctx context.Context) error {
	started := time.Now()
	stats := &ReconcileStats{}

	list, err := j.enrollments.ListWithUnreleasedPayouts(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("reconcile_payouts: list enrollments: %w", err)
	}

	for _, e := range list {
		for _, r := range e.UnreleasedPayouts() {
			if ctx.Err() != nil {
				break
			}
			stats.Pending++
			if j.config.MaxAttempts > 0 && r.Attempts >= j.config.MaxAttempts {
				stats.GivenUp++
				continue
			}
			res, err := j.releaser.Handle(ctx, command.ReleasePayoutCommand{EnrollmentID: e.ID, Date: r.Date})
			if err != nil {
				stats.Failed++
				j.logger.Warn("payout release failed",
					"enrollment_id", e.ID.String(),
					"date", r.Date.String(),
					"attempts", r.Attempts+1,
					"error", err,
				)
				continue
			}
			stats.Released++
			stats.Amount += res.Amount
		}
	}

	stats.Duration = time.Since(started)
	j.lastStats.Store(stats)
	j.logger.Info("payout reconciliation finished",
		"pending", stats.Pending,
		"released", stats.Released,
		"amount", stats.Amount.String(),
		"failed", stats.Failed,
		"given_up", stats.GivenUp,
	)
	return ctx.Err()
}
