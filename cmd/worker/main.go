// Package main is the entry point of the background worker.
//
// "worker run" executes the batch jobs on their cron schedules in the
// operational timezone. The other commands run one job or one migration
// step and exit, which is how operators replay a missed business day:
//
//	worker deduct --date 2025-01-05
//	worker migrate status
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halaka-hub/halaka-scheduler/config"
	"github.com/halaka-hub/halaka-scheduler/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Background jobs of the halaka scheduler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// ─── run ────────────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job scheduler until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := boot(ctx)
	if err != nil {
		return err
	}
	defer shutdown(c)

	if !c.Config.Scheduler.Enabled {
		c.Logger.Warn("scheduler disabled by SCHEDULER_ENABLED, nothing to do")
		return nil
	}
	if err := c.RegisterJobs(true); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	if err := c.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range c.Scheduler.ListJobs() {
		c.Logger.Info("job scheduled", "job", j.Name, "schedule", j.Schedule, "next_run", j.NextRun)
	}
	c.Logger.Info("worker is running", "timezone", c.Config.App.Timezone)

	<-ctx.Done()
	c.Logger.Info("received shutdown signal")
	return nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func boot(ctx context.Context) (*app.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	log.Info("starting worker", "env", cfg.App.Environment, "timezone", cfg.App.Timezone)
	return app.New(ctx, cfg, log)
}

func shutdown(c *app.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Config.App.ShutdownTimeout)
	defer cancel()
	c.Close(ctx)
	c.Logger.Info("shutdown completed")
}
