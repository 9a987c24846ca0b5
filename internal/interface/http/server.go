// Package http exposes the scheduling engine over HTTP: the teacher and
// admin REST API used by the marketplace backend, the meeting-platform
// webhook, manual job triggers, health probes and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/application/query"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler"
	"github.com/halaka-hub/halaka-scheduler/internal/interface/http/handlers"
	"github.com/halaka-hub/halaka-scheduler/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// RequestTimeout bounds the handling of one API request.
	RequestTimeout time.Duration

	// MaxBodyBytes bounds API and webhook request bodies.
	MaxBodyBytes int64

	// APIKeyHeader is the header carrying the API key.
	APIKeyHeader string

	// APIKeyHashes are bcrypt hashes of the accepted API keys.
	APIKeyHashes []string

	EnableMetrics bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   64 << 10,
		APIKeyHeader:   "X-API-Key",
		EnableMetrics:  true,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner triggers batch jobs by hand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (*scheduler.JobResult, error)
	RunForDate(ctx context.Context, name string, date shared.Date) (*scheduler.JobResult, error)
}

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Dependencies contains everything the handlers call. A nil handler turns
// its routes into 501.
type Dependencies struct {
	// Commands
	CreateSchedule     *command.CreateScheduleHandler
	EnrollStudent      *command.EnrollStudentHandler
	CancelOccurrence   *command.CancelOccurrenceHandler
	RestoreOccurrence  *command.RestoreOccurrenceHandler
	OverrideAttendance *command.OverrideAttendanceHandler
	Payments           *command.PaymentHandler
	Enrollments        *command.EnrollmentLifecycleHandler

	// Queries
	GetOccurrences *query.GetOccurrencesHandler
	GetEnrollment  *query.GetEnrollmentHandler

	Jobs JobRunner

	// Webhook serves POST /webhook/meeting.
	Webhook http.Handler

	HealthChecker handlers.HealthChecker

	// Metrics serves /metrics (default: the global Prometheus registry).
	Metrics  http.Handler
	Observer HTTPObserver

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: chi.NewRouter(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(handlers.SecurityHeadersMiddleware)

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	if s.config.EnableMetrics {
		metrics := s.deps.Metrics
		if metrics == nil {
			metrics = promhttp.Handler()
		}
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Meeting platform webhook (authenticated by signature, not API key)
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.Webhook != nil {
		r.Method(http.MethodPost, "/webhook/meeting", s.deps.Webhook)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeyHashes)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(handlers.RequestSizeLimitMiddleware(s.maxBody()))
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}
		r.Use(handlers.ActorMiddleware)

		r.Post("/schedules", s.handleCreateSchedule)
		r.Route("/schedules/{scheduleID}", func(r chi.Router) {
			r.Get("/occurrences", s.handleGetOccurrences)
			r.Post("/enrollments", s.handleEnrollStudent)
			r.Post("/cancellations", s.handleCancelOccurrence)
			r.Delete("/cancellations/{date}", s.handleRestoreOccurrence)
			r.Put("/attendance/{date}/{studentID}", s.handleOverrideAttendance)
		})
		r.Route("/enrollments/{enrollmentID}", func(r chi.Router) {
			r.Get("/", s.handleGetEnrollment)
			r.Post("/payments", s.handleConfirmPayment)
			r.Post("/top-ups", s.handleTopUp)
			r.Post("/accept", s.handleAcceptEnrollment)
			r.Post("/cancel", s.handleCancelEnrollment)
		})
		r.Post("/jobs/{name}/run", s.handleRunJob)
	})
}

func (s *Server) maxBody() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return 64 << 10
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware logs every request and feeds the HTTP metrics with the
// route pattern, never the raw path.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.deps.Observer != nil {
			s.deps.Observer.ObserveHTTP(r.Method, route, status, duration)
		}

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("route", route),
			logger.Int("status", status),
			logger.Latency(duration),
			logger.String("ip", r.RemoteAddr),
			logger.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Debug("http request", fields...)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				)
				handlers.WriteError(w, r, http.StatusInternalServerError, "internal_server_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps an error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, scheduler.ErrJobBusy):
		return http.StatusConflict, "job_busy"
	case errors.Is(err, scheduler.ErrNotDated):
		return http.StatusBadRequest, "job_not_dated"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrOptimisticLock),
		errors.Is(err, shared.ErrConcurrentModification),
		errors.Is(err, shared.ErrLockNotAcquired):
		return http.StatusConflict, "conflict"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, shared.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, shared.ErrExpired):
		return http.StatusConflict, "expired"
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrStateTransition):
		return http.StatusConflict, "invalid_state"
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError answers with the mapped status. Client errors carry the
// domain reason; server errors stay generic and are logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Err(err),
		)
		handlers.WriteError(w, r, status, code, http.StatusText(status))
		return
	}
	handlers.WriteError(w, r, status, code, reason(err))
}

// reason returns the outermost domain message, which names the rejection
// ("date not in schedule", "already cancelled").
func reason(err error) string {
	if msg := command.Reason(err); msg != "" {
		return msg
	}
	if errors.Is(err, scheduler.ErrJobNotFound) || errors.Is(err, scheduler.ErrJobBusy) || errors.Is(err, scheduler.ErrNotDated) {
		return err.Error()
	}
	return "request rejected"
}
