// Package jobs contains the scheduled batch jobs of the scheduling engine.
// Each job works on one business day in the operational timezone, keeps
// going when a single schedule or enrollment fails, and reports the counts
// of the run through its stats.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREDIT DEDUCTION JOB
// ══════════════════════════════════════════════════════════════════════════════

// Deducter consumes one credit for a delivered lesson.
type Deducter interface {
	Handle(ctx context.Context, cmd command.DeductCreditCommand) (*command.DeductCreditResult, error)
}

// DeductionObserver receives the outcome label of every attempt.
type DeductionObserver interface {
	ObserveDeduction(outcome string)
}

// CreditDeductionConfig contains configuration for the deduction job.
type CreditDeductionConfig struct {
	// Location is the operational timezone that defines "yesterday".
	Location *time.Location

	// Concurrency is the number of schedules processed in parallel.
	Concurrency int

	// ScheduleTimeout bounds the work on a single schedule.
	ScheduleTimeout time.Duration

	// PageSize is the number of schedules loaded per repository call.
	PageSize int

	Now func() time.Time
}

// DefaultCreditDeductionConfig returns sensible defaults.
func DefaultCreditDeductionConfig() CreditDeductionConfig {
	return CreditDeductionConfig{
		Location:        time.UTC,
		Concurrency:     4,
		ScheduleTimeout: 30 * time.Second,
		PageSize:        200,
		Now:             time.Now,
	}
}

func (c CreditDeductionConfig) withDefaults() CreditDeductionConfig {
	d := DefaultCreditDeductionConfig()
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ScheduleTimeout <= 0 {
		c.ScheduleTimeout = d.ScheduleTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// DeductionStats contains the counts of one run.
type DeductionStats struct {
	Date        shared.Date
	StartedAt   time.Time
	Duration    time.Duration
	Schedules   int
	Deducted    int
	Skipped     int
	Failed      int
	Exhausted   int
	Released    shared.Money
	ReleaseErrs int
}

// CreditDeductionJob charges one credit for every private schedule whose
// student attended the lesson of the business day.
type CreditDeductionJob struct {
	schedules schedule.Repository
	deducter  Deducter
	observer  DeductionObserver
	logger    *slog.Logger
	tracer    trace.Tracer
	config    CreditDeductionConfig

	lastStats atomic.Pointer[DeductionStats]
}

// NewCreditDeductionJob creates the job. observer may be nil.
func NewCreditDeductionJob(
	schedules schedule.Repository,
	deducter Deducter,
	observer DeductionObserver,
	logger *slog.Logger,
	config CreditDeductionConfig,
) *CreditDeductionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditDeductionJob{
		schedules: schedules,
		deducter:  deducter,
		observer:  observer,
		logger:    logger.With("job", CreditDeductionJobName),
		tracer:    otel.Tracer("halaka-scheduler/jobs"),
		config:    config.withDefaults(),
	}
}

// CreditDeductionJobName is the registered name of the job.
const CreditDeductionJobName = "credit_deduction"

// Name returns the job name.
func (j *CreditDeductionJob) Name() string { return CreditDeductionJobName }

// Description returns a human-readable description.
func (j *CreditDeductionJob) Description() string {
	return "Deducts one credit per attended lesson of yesterday and releases the teacher payout"
}

// LastStats returns the stats of the most recent run, nil before the first.
func (j *CreditDeductionJob) LastStats() *DeductionStats {
	return j.lastStats.Load()
}

// Run processes yesterday in the operational timezone.
func (j *CreditDeductionJob) Run(ctx context.Context) error {
	return j.RunFor(ctx, Yesterday(j.config.Now(), j.config.Location))
}

// RunFor processes the lessons held on date. Failures on single schedules
// are counted and logged, never returned.
func (j *CreditDeductionJob) RunFor(ctx context.Context, date shared.Date) error {
	stats := &DeductionStats{Date: date, StartedAt: time.Now()}
	log := j.logger.With("date", date.String())
	log.Info("credit deduction started")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(j.config.Concurrency)

	err := forEachActive(ctx, j.schedules, schedule.KindPrivate, j.config.PageSize, func(s *schedule.Schedule) {
		if !s.Generates(date) {
			return
		}
		mu.Lock()
		stats.Schedules++
		mu.Unlock()

		g.Go(func() error {
			res, err := j.deductOne(ctx, s, date)
			mu.Lock()
			defer mu.Unlock()
			j.tally(stats, res, err)
			if err != nil {
				log.Error("deduction failed", "schedule_id", s.ID.String(), "error", err)
			}
			return nil
		})
	})
	_ = g.Wait()

	stats.Duration = time.Since(stats.StartedAt)
	j.lastStats.Store(stats)

	log.Info("credit deduction completed",
		"duration", stats.Duration.String(),
		"schedules", stats.Schedules,
		"deducted", stats.Deducted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"exhausted", stats.Exhausted,
		"released", stats.Released.String(),
		"release_errors", stats.ReleaseErrs,
	)
	if err != nil {
		return fmt.Errorf("credit_deduction: list schedules: %w", err)
	}
	return nil
}

func (j *CreditDeductionJob) deductOne(ctx context.Context, s *schedule.Schedule, date shared.Date) (_ *command.DeductCreditResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.ScheduleTimeout)
	defer cancel()

	ctx, span := j.tracer.Start(ctx, "jobs.DeductCredit", trace.WithAttributes(
		attribute.String("schedule.id", s.ID.String()),
		attribute.String("session.date", date.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err := j.deducter.Handle(ctx, command.DeductCreditCommand{
		ScheduleID: s.ID,
		StudentID:  s.PrivateStudentID,
		Date:       date,
	})
	if err == nil {
		span.SetAttributes(
			attribute.String("deduction.outcome", deductionLabel(res)),
			attribute.Int("ledger.remaining", res.Remaining),
		)
	}
	return res, err
}

func (j *CreditDeductionJob) tally(stats *DeductionStats, res *command.DeductCreditResult, err error) {
	label := "failed"
	switch {
	case err != nil:
		stats.Failed++
	case res.Deducted():
		label = deductionLabel(res)
		stats.Deducted++
		stats.Released += res.Released
		if res.Exhausted {
			stats.Exhausted++
		}
		if res.ReleaseErr != nil {
			stats.ReleaseErrs++
		}
	default:
		label = deductionLabel(res)
		stats.Skipped++
	}
	if j.observer != nil {
		j.observer.ObserveDeduction(label)
	}
}

// deductionLabel prefers the ledger outcome and falls back to the skip
// reason of sessions that never reached the ledger.
func deductionLabel(res *command.DeductCreditResult) string {
	if res.Outcome != "" {
		return string(res.Outcome)
	}
	return string(res.Skipped)
}
