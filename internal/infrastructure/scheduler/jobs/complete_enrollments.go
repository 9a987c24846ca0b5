package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE ENROLLMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CompleteEnrollmentsJobName is the registered name of the job.
const CompleteEnrollmentsJobName = "complete_enrollments"

// Completer closes an ended schedule and its enrollments.
type Completer interface {
	Handle(ctx context.Context, cmd command.CompleteScheduleCommand) (*command.CompleteScheduleResult, error)
}

// CompletionStats contains the counts of one run.
type CompletionStats struct {
	Date        shared.Date
	Duration    time.Duration
	Checked     int
	Completed   int
	Enrollments int
	Failed      int
}

// CompleteEnrollmentsJob closes schedules whose last lesson lies before the
// business day. For business day D only schedules ending before D are
// closed, so the final lesson has already been through a deduction run.
type CompleteEnrollmentsJob struct {
	schedules schedule.Repository
	completer Completer
	logger    *slog.Logger
	location  *time.Location
	pageSize  int
	now       func() time.Time

	lastStats atomic.Pointer[CompletionStats]
}

// NewCompleteEnrollmentsJob creates the job. It shares the deduction job's
// timezone and page size.
func NewCompleteEnrollmentsJob(schedules schedule.Repository, completer Completer, logger *slog.Logger, config CreditDeductionConfig) *CompleteEnrollmentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	return &CompleteEnrollmentsJob{
		schedules: schedules,
		completer: completer,
		logger:    logger.With("job", CompleteEnrollmentsJobName),
		location:  config.Location,
		pageSize:  config.PageSize,
		now:       config.Now,
	}
}

// Name returns the job name.
func (j *CompleteEnrollmentsJob) Name() string { return CompleteEnrollmentsJobName }

// Description returns a human-readable description.
func (j *CompleteEnrollmentsJob) Description() string {
	return "Completes ended schedules and their active or exhausted enrollments"
}

// LastStats returns the stats of the most recent run.
func (j *CompleteEnrollmentsJob) LastStats() *CompletionStats {
	return j.lastStats.Load()
}

// Run processes yesterday in the operational timezone.
func (j *CompleteEnrollmentsJob) Run(ctx context.Context) error {
	return j.RunFor(ctx, Yesterday(j.now(), j.location))
}

// RunFor closes every schedule whose end date lies before date.
func (j *CompleteEnrollmentsJob) RunFor(ctx context.Context, date shared.Date) error {
	started := time.Now()
	stats := &CompletionStats{Date: date}
	log := j.logger.With("date", date.String())

	err := forEachActive(ctx, j.schedules, "", j.pageSize, func(s *schedule.Schedule) {
		// Each schedule is compared in its own zone at the start of date.
		asOf := date.In(s.Location())
		if !s.HasEnded(asOf) {
			return
		}
		stats.Checked++

		res, err := j.completer.Handle(ctx, command.CompleteScheduleCommand{ScheduleID: s.ID, AsOf: asOf})
		if res != nil {
			if res.Completed {
				stats.Completed++
			}
			stats.Enrollments += len(res.Enrollments)
		}
		if err != nil {
			stats.Failed++
			log.Error("schedule completion failed", "schedule_id", s.ID.String(), "error", err)
		}
	})

	stats.Duration = time.Since(started)
	j.lastStats.Store(stats)
	log.Info("enrollment completion finished",
		"checked", stats.Checked,
		"completed", stats.Completed,
		"enrollments", stats.Enrollments,
		"failed", stats.Failed,
	)
	if err != nil {
		return fmt.Errorf("complete_enrollments: list schedules: %w", err)
	}
	return nil
}
