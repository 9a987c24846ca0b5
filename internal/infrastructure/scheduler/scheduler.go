// Package scheduler runs the periodic batch jobs of the scheduling engine.
// Schedules are evaluated in the operational timezone, and every job that
// works on a business day can also be run by hand for an explicit date.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job for the current business day.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// DatedJob is a job that can be replayed for an explicit business day.
type DatedJob interface {
	Job
	RunFor(ctx context.Context, date shared.Date) error
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// Observer receives the outcome of every job run.
type Observer interface {
	ObserveJob(job string, duration time.Duration, err error)
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
	// Date is set when the run targeted an explicit business day.
	Date shared.Date
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	logger   *slog.Logger
	timezone *time.Location
	observer Observer
	tick     time.Duration

	jobs    map[string]*scheduledJob
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	busy     bool
	lastRun  time.Time
	nextRun  time.Time
	runCount int64
	failures int64
	last     *JobResult
}

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *slog.Logger

	// Timezone is the operational timezone used to evaluate schedules
	// (default: UTC).
	Timezone *time.Location

	// Observer is optional.
	Observer Observer

	// TickInterval is how often due jobs are checked (default: 1s).
	TickInterval time.Duration
}

// New creates a Scheduler.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	return &Scheduler{
		logger:   config.Logger.With("component", "scheduler"),
		timezone: config.Timezone,
		observer: config.Observer,
		tick:     config.TickInterval,
		jobs:     make(map[string]*scheduledJob),
	}
}

// Register adds a job. A nil schedule registers a manual-only job.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return errors.New("scheduler: job is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	sj := &scheduledJob{job: job, schedule: schedule}
	if schedule != nil {
		sj.nextRun = schedule.Next(time.Now().In(s.timezone))
	}
	s.jobs[name] = sj

	s.logger.Info("job registered", "job", name, "schedule", scheduleString(schedule))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins running due jobs in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.runLoop()

	s.logger.Info("scheduler started", "jobs", len(s.jobs), "timezone", s.timezone.String())
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(time.Now())
		}
	}
}

// runDue starts every job whose next run has passed. A job still busy
// from its previous run is skipped for this tick.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sj := range s.jobs {
		if sj.schedule == nil || sj.busy || sj.nextRun.IsZero() || now.Before(sj.nextRun) {
			continue
		}
		sj.busy = true
		sj.nextRun = sj.schedule.Next(now.In(s.timezone))

		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			_ = s.execute(s.ctx, sj, shared.Date{}, false)
		}(sj)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow immediately executes a job by name, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	sj, err := s.claim(jobName)
	if err != nil {
		return nil, err
	}
	result := s.execute(ctx, sj, shared.Date{}, true)
	return result, result.Error
}

// RunForDate executes a dated job for an explicit business day.
func (s *Scheduler) RunForDate(ctx context.Context, jobName string, date shared.Date) (*JobResult, error) {
	sj, err := s.claim(jobName)
	if err != nil {
		return nil, err
	}
	if _, ok := sj.job.(DatedJob); !ok {
		s.release(sj)
		return nil, fmt.Errorf("%w: %s", ErrNotDated, jobName)
	}
	result := s.execute(ctx, sj, date, true)
	return result, result.Error
}

func (s *Scheduler) claim(jobName string) (*scheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[jobName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if sj.busy {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, jobName)
	}
	sj.busy = true
	return sj, nil
}

func (s *Scheduler) release(sj *scheduledJob) {
	s.mu.Lock()
	sj.busy = false
	s.mu.Unlock()
}

// execute runs a claimed job and records the result. The caller must have
// marked sj busy.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, date shared.Date, manual bool) *JobResult {
	name := sj.job.Name()
	log := s.logger.With("job", name, "manual", manual)
	if !date.IsZero() {
		log = log.With("date", date.String())
	}
	log.Info("job started")

	started := time.Now()
	var err error
	if dj, ok := sj.job.(DatedJob); ok && !date.IsZero() {
		err = dj.RunFor(ctx, date)
	} else {
		err = sj.job.Run(ctx)
	}
	completed := time.Now()

	result := &JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
		Date:        date,
	}

	s.mu.Lock()
	sj.busy = false
	sj.lastRun = started
	sj.runCount++
	if err != nil {
		sj.failures++
	}
	sj.last = result
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveJob(name, result.Duration, err)
	}
	if err != nil {
		log.Error("job failed", "duration", result.Duration.String(), "error", err)
	} else {
		log.Info("job completed", "duration", result.Duration.String())
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo contains information about a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Dated       bool
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns information about all registered jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		_, dated := sj.job.(DatedJob)
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    scheduleString(sj.schedule),
			Dated:       dated,
			Running:     sj.busy,
			LastRun:     sj.lastRun,
			NextRun:     sj.nextRun,
			RunCount:    sj.runCount,
			FailCount:   sj.failures,
			LastResult:  sj.last,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func scheduleString(s Schedule) string {
	if s == nil {
		return "manual"
	}
	return s.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already registered")
	ErrJobBusy        = errors.New("job is already running")
	ErrNotDated       = errors.New("job cannot run for an explicit date")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)
