// Package main is the entry point of the scheduling API.
//
// The API serves the marketplace backend (schedules, occurrences,
// enrollments, payments), receives meeting-platform webhooks and lets
// operators trigger batch jobs by hand. Cron execution lives in cmd/worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/halaka-hub/halaka-scheduler/config"
	"github.com/halaka-hub/halaka-scheduler/internal/app"
	httpserver "github.com/halaka-hub/halaka-scheduler/internal/interface/http"
	"github.com/halaka-hub/halaka-scheduler/internal/interface/http/handlers"
	"github.com/halaka-hub/halaka-scheduler/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	log.Info("starting scheduling API",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE AND APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	c, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		c.Close(closeCtx)
	}()

	// Jobs are registered without schedules so operators can run them
	// through POST /api/v1/jobs/{name}/run. The worker owns the cron.
	if err := c.RegisterJobs(false); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	webhook := handlers.NewMeetingWebhook(c.RecordMeetingEvent, c.Dedup, c.Metrics, log, handlers.MeetingWebhookConfig{
		Secret:       cfg.HTTP.WebhookSecret,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	server := httpserver.NewServer(serverConfig(cfg), httpserver.Dependencies{
		CreateSchedule:     c.CreateSchedule,
		EnrollStudent:      c.EnrollStudent,
		CancelOccurrence:   c.CancelOccurrence,
		RestoreOccurrence:  c.RestoreOccurrence,
		OverrideAttendance: c.OverrideAttendance,
		Payments:           c.Payments,
		Enrollments:        c.Lifecycle,
		GetOccurrences:     c.GetOccurrences,
		GetEnrollment:      c.GetEnrollment,
		Jobs:               c.Scheduler,
		Webhook:            webhook,
		HealthChecker:      c.Health,
		Metrics:            c.MetricsHandler(),
		Observer:           c.Metrics,
		Logger:             logger.FromSlog(log),
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	errCh := server.StartAsync()
	log.Info("scheduling API is running", "address", cfg.HTTPAddress())

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", "error", err)
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

func serverConfig(cfg *config.Config) httpserver.Config {
	h := cfg.HTTP
	sc := httpserver.DefaultConfig()
	sc.Host = h.Host
	sc.Port = h.Port
	sc.ReadTimeout = h.ReadTimeout
	sc.WriteTimeout = h.WriteTimeout
	sc.IdleTimeout = h.IdleTimeout
	sc.RequestTimeout = h.RequestTimeout
	sc.MaxBodyBytes = h.MaxBodyBytes
	sc.APIKeyHeader = h.APIKeyHeader
	sc.APIKeyHashes = h.APIKeyHashes
	sc.EnableMetrics = cfg.Observability.MetricsEnabled
	if len(h.APIKeyHashes) == 0 {
		slog.Warn("no API key hashes configured, /api/v1 rejects every request")
	}
	return sc
}
