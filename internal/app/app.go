// Package app wires the infrastructure, command handlers and jobs into one
// Container shared by cmd/api and cmd/worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halaka-hub/halaka-scheduler/config"
	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/application/eventhandler"
	"github.com/halaka-hub/halaka-scheduler/internal/application/query"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/wallet"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/external/push"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/messaging"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/metrics"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/memory"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/postgres"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/redis"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler/jobs"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/service"
	"github.com/halaka-hub/halaka-scheduler/internal/interface/http/handlers"
	"github.com/halaka-hub/halaka-scheduler/pkg/circuitbreaker"
	"github.com/halaka-hub/halaka-scheduler/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Container holds every long-lived component of the service.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Bus      *messaging.InMemoryEventBus

	// Storage
	Schedules    schedule.Repository
	Enrollments  enrollment.Repository
	Participants schedule.ParticipantDirectory
	Outbox       notification.Repository
	Locker       command.Locker
	Dedup        handlers.DeliveryDedup

	Wallet   *service.GuardedWallet
	Notifier *service.NotificationService
	Health   *handlers.CompositeHealthChecker

	// Commands
	CreateSchedule     *command.CreateScheduleHandler
	EnrollStudent      *command.EnrollStudentHandler
	CancelOccurrence   *command.CancelOccurrenceHandler
	RestoreOccurrence  *command.RestoreOccurrenceHandler
	OverrideAttendance *command.OverrideAttendanceHandler
	Payments           *command.PaymentHandler
	Lifecycle          *command.EnrollmentLifecycleHandler
	CompleteSchedule   *command.CompleteScheduleHandler
	ReleasePayout      *command.ReleasePayoutHandler
	DeductCredit       *command.DeductCreditHandler
	RecordMeetingEvent *command.RecordMeetingEventHandler

	// Queries
	GetOccurrences *query.GetOccurrencesHandler
	GetEnrollment  *query.GetEnrollmentHandler

	// Jobs
	Scheduler   *scheduler.Scheduler
	Deduction   *jobs.CreditDeductionJob
	Completion  *jobs.CompleteEnrollmentsJob
	Reconcile   *jobs.ReconcilePayoutsJob
	RetryNotify *jobs.RetryNotificationsJob

	db    *postgres.Connection
	cache *redis.Cache
}

// NewLogger builds the process logger from the observability settings and
// installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	format := cfg.Observability.LogFormat
	if cfg.IsDevelopment() && format == "" {
		format = "text"
	}
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	log := slog.New(logger.NewHandler(logger.Options{
		Output: os.Stdout,
		Level:  level,
		Format: format,
	})).With("service", cfg.App.Name, "version", cfg.App.Version)
	slog.SetDefault(log)
	return log
}

// New connects the storage backends and builds the container. Without
// DATABASE_URL the service runs on in-memory repositories; with Redis
// disabled locks and webhook dedup are process-local.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Container, err error) {
	c := &Container{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			c.Close(context.Background())
		}
	}()

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)
	c.Health = handlers.NewCompositeHealthChecker(cfg.App.Version)

	if err := c.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := c.initCoordination(ctx); err != nil {
		return nil, err
	}

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.Observer = c.Metrics
	c.Bus = messaging.NewInMemoryEventBus(busCfg)

	c.initServices()
	c.initHandlers()
	if err := c.subscribe(); err != nil {
		return nil, err
	}
	c.initJobs()

	c.Health.AddCheck("wallet", handlers.NewBreakerCheck("wallet", c.Wallet))
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	db := c.Config.Database
	if db.URL == "" {
		c.Logger.Warn("DATABASE_URL not set, using in-memory storage")
		c.Schedules = memory.NewScheduleRepository()
		c.Enrollments = memory.NewEnrollmentRepository()
		c.Participants = memory.NewParticipantDirectory()
		c.Outbox = memory.NewNotificationRepository()
		return nil
	}

	conn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:             db.URL,
		MaxConns:        int32(db.MaxConns),
		MinConns:        int32(db.MinConns),
		MaxConnLifetime: db.ConnMaxLifetime,
		MaxConnIdleTime: db.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	c.db = conn
	c.Logger.Info("database connection established")

	if db.AutoMigrate {
		n, err := postgres.NewMigrator(conn).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		c.Logger.Info("database schema is up to date", "applied", n)
	}

	c.Schedules = postgres.NewScheduleRepository(conn)
	c.Enrollments = postgres.NewEnrollmentRepository(conn)
	c.Participants = postgres.NewParticipantDirectory(conn)
	c.Outbox = postgres.NewNotificationRepository(conn)
	c.Health.AddCheck("postgres", handlers.NewPingCheck(conn))
	return nil
}

func (c *Container) initCoordination(ctx context.Context) error {
	rc := c.Config.Redis
	dedupOn := c.Config.Features == nil || c.Config.Features.Enabled(config.FeatureWebhookDedup)

	if rc.Disabled {
		c.Logger.Warn("redis disabled, locks and webhook dedup are process-local")
		c.Locker = memory.NewLocker()
		if dedupOn {
			c.Dedup = memory.NewDeliveryDedup(100_000, c.Config.HTTP.WebhookDedupTTL)
		}
		return nil
	}

	cache, err := redis.NewCache(redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if err := cache.Ping(ctx); err != nil {
		_ = cache.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	c.cache = cache
	c.Logger.Info("redis connection established")

	c.Locker = redis.NewLocker(cache.Client(), rc.LockPoll)
	if dedupOn {
		c.Dedup = redis.NewDeliveryDedup(cache, c.Config.HTTP.WebhookDedupTTL)
	}
	c.Health.AddCheck("redis", handlers.NewPingCheck(cache))
	return nil
}

func (c *Container) initServices() {
	var w wallet.Wallet
	if c.db != nil {
		w = postgres.NewWallet(c.db)
	} else {
		w = memory.NewWallet()
	}
	c.Wallet = service.NewGuardedWallet(w, c.Metrics, c.Logger, c.breakerChanged)

	var sender notification.Sender
	if pc := c.Config.Push; pc.BaseURL != "" {
		pushCfg := push.DefaultClientConfig(pc.BaseURL)
		pushCfg.APIKey = pc.APIKey
		pushCfg.Timeout = pc.Timeout
		if pc.RequestsPerSecond > 0 {
			pushCfg.RateLimiterConfig.RequestsPerSecond = pc.RequestsPerSecond
		}
		if pc.Burst > 0 {
			pushCfg.RateLimiterConfig.BurstSize = pc.Burst
		}
		pushCfg.Logger = c.Logger
		sender = push.NewClient(pushCfg)
	} else {
		c.Logger.Warn("PUSH_BASE_URL not set, notifications are only logged")
		sender = service.NewLogSender(c.Logger)
	}
	c.Notifier = service.NewNotificationService(
		c.Outbox,
		sender,
		circuitbreaker.NotifierBreaker(c.breakerChanged),
		c.Metrics,
		c.Logger,
		service.NotificationConfig{},
	)
}

func (c *Container) breakerChanged(name string, from, to circuitbreaker.State) {
	c.Metrics.SetBreakerState(name, int(to))
	c.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}

func (c *Container) initHandlers() {
	dc := c.Config.Deduction
	occ := command.OccurrenceHandlerConfig{LockTTL: dc.LockTTL, Now: time.Now}

	c.CreateSchedule = command.NewCreateScheduleHandler(c.Schedules, c.Enrollments, time.Now)
	c.EnrollStudent = command.NewEnrollStudentHandler(c.Schedules, c.Enrollments, c.Locker, occ)
	c.CancelOccurrence = command.NewCancelOccurrenceHandler(c.Schedules, c.Locker, c.Bus, occ)
	c.RestoreOccurrence = command.NewRestoreOccurrenceHandler(c.Schedules, c.Locker, c.Bus, occ)
	c.OverrideAttendance = command.NewOverrideAttendanceHandler(c.Schedules, c.Locker, occ)
	c.Payments = command.NewPaymentHandler(c.Enrollments, c.Locker, c.Bus, command.PaymentHandlerConfig{
		FeeBasisPoints: dc.FeeBasisPoints,
		LockTTL:        dc.LockTTL,
		Now:            time.Now,
	})
	c.Lifecycle = command.NewEnrollmentLifecycleHandler(c.Enrollments, c.Locker, c.Bus, occ)
	c.CompleteSchedule = command.NewCompleteScheduleHandler(c.Schedules, c.Enrollments, c.Lifecycle, c.Locker, occ)
	c.ReleasePayout = command.NewReleasePayoutHandler(c.Enrollments, c.Wallet, c.Bus, time.Now)
	c.DeductCredit = command.NewDeductCreditHandler(c.Schedules, c.Enrollments, c.Locker, c.ReleasePayout, c.Bus, occ)
	c.RecordMeetingEvent = command.NewRecordMeetingEventHandler(c.Schedules, c.Participants, c.Locker, c.Bus, dc.LockTTL)

	c.GetOccurrences = query.NewGetOccurrencesHandler(c.Schedules)
	c.GetEnrollment = query.NewGetEnrollmentHandler(c.Enrollments)
}

// subscribe registers the notification handlers. Flags decide which
// notices are sent at all.
func (c *Container) subscribe() error {
	ff := c.Config.Features
	if ff == nil {
		ff = config.NewFeatureFlags()
	}
	notify := eventhandler.NotifyConfig{
		BaseURL:       c.Config.App.PublicURL,
		NotifyTeacher: ff.Enabled(config.FeatureNotifyTeacherLowBalance),
	}

	subs := []messaging.Subscription{{
		Handler: eventhandler.NewOnBalanceExhaustedHandler(c.Notifier, c.Logger, notify),
		Types:   []shared.EventType{shared.EventBalanceExhausted},
	}}
	if ff.Enabled(config.FeatureNotifyOccurrenceChange) {
		subs = append(subs, messaging.Subscription{
			Handler: eventhandler.NewOnOccurrenceChangedHandler(c.Notifier, c.Logger, notify),
			Types:   []shared.EventType{shared.EventOccurrenceCancelled, shared.EventOccurrenceRestored},
		})
	}
	if ff.Enabled(config.FeatureNotifyPayout) {
		subs = append(subs, messaging.Subscription{
			Handler: eventhandler.NewOnPayoutReleasedHandler(c.Notifier, c.Logger, notify),
			Types:   []shared.EventType{shared.EventPayoutReleased},
		})
	}
	return messaging.Subscribe(c.Bus, subs...)
}

func (c *Container) initJobs() {
	dc := c.Config.Deduction
	jobCfg := jobs.CreditDeductionConfig{
		Location:        c.Config.App.Location,
		Concurrency:     dc.Concurrency,
		ScheduleTimeout: dc.ScheduleTimeout,
		PageSize:        dc.PageSize,
		Now:             time.Now,
	}

	c.Scheduler = scheduler.New(scheduler.Config{
		Logger:       c.Logger,
		Timezone:     c.Config.App.Location,
		Observer:     c.Metrics,
		TickInterval: c.Config.Scheduler.TickInterval,
	})
	c.Deduction = jobs.NewCreditDeductionJob(c.Schedules, c.DeductCredit, c.Metrics, c.Logger, jobCfg)
	c.Completion = jobs.NewCompleteEnrollmentsJob(c.Schedules, c.CompleteSchedule, c.Logger, jobCfg)
	c.Reconcile = jobs.NewReconcilePayoutsJob(c.Enrollments, c.ReleasePayout, c.Logger, jobs.ReconcileConfig{
		BatchSize:   dc.ReconcileBatch,
		MaxAttempts: dc.ReconcileMaxAttempts,
	})
	c.RetryNotify = jobs.NewRetryNotificationsJob(c.Notifier, c.Logger, c.Config.Push.MaxAttempts, 0)
}

// RegisterJobs adds the jobs to the scheduler. With cron false they are
// registered for manual runs only, which is what the API process wants.
func (c *Container) RegisterJobs(cron bool) error {
	sc := c.Config.Scheduler
	ff := c.Config.Features
	if ff == nil {
		ff = config.NewFeatureFlags()
	}

	type entry struct {
		job  scheduler.Job
		spec string
		on   bool
	}
	entries := []entry{
		{c.Deduction, sc.DeductionSchedule, true},
		{c.Completion, sc.CompletionSchedule, true},
		{c.Reconcile, sc.ReconcileSchedule, ff.Enabled(config.FeaturePayoutReconciliation)},
		{c.RetryNotify, sc.RetrySchedule, ff.Enabled(config.FeatureNotificationRetry)},
	}
	for _, e := range entries {
		var sched scheduler.Schedule
		if cron && e.on {
			s, err := scheduler.ParseSchedule(e.spec)
			if err != nil {
				return fmt.Errorf("job %s: %w", e.job.Name(), err)
			}
			sched = s
		}
		if err := c.Scheduler.Register(e.job, sched); err != nil {
			return err
		}
	}
	return nil
}

// MetricsHandler serves the container's registry.
func (c *Container) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// DB returns the PostgreSQL connection, or nil on in-memory storage.
func (c *Container) DB() *postgres.Connection {
	return c.db
}

// Close drains background work and releases connections.
func (c *Container) Close(ctx context.Context) {
	if c.Scheduler != nil && c.Scheduler.IsRunning() {
		if err := c.Scheduler.Stop(); err != nil {
			c.Logger.Warn("scheduler stop", "error", err)
		}
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Notifier != nil {
		if err := c.Notifier.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Warn("pending notifications not delivered", "error", err)
		}
	}
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}
