package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halaka-hub/halaka-scheduler/internal/app"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler/jobs"
)

// ─── one-shot jobs ──────────────────────────────────────────────────────────
// Each command runs a single job through the scheduler so the run is
// logged, timed and recorded in metrics like a cron run.

func init() {
	rootCmd.AddCommand(deductCmd, completeCmd, reconcileCmd, retryCmd)

	deductCmd.Flags().String("date", "", "Business day to charge (YYYY-MM-DD, default: yesterday)")
	completeCmd.Flags().String("date", "", "Business day to close schedules before (YYYY-MM-DD, default: yesterday)")
}

var deductCmd = &cobra.Command{
	Use:   "deduct",
	Short: "Deduct session credits for one business day",
	Long: `Charges one credit for every private schedule whose student attended
the lesson of the business day. Re-running a day is safe: sessions already
charged are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, jobs.CreditDeductionJobName, func(c *app.Container) {
			if s := c.Deduction.LastStats(); s != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "date=%s schedules=%d deducted=%d skipped=%d exhausted=%d failed=%d released=%s release_errors=%d\n",
					s.Date, s.Schedules, s.Deducted, s.Skipped, s.Exhausted, s.Failed, s.Released, s.ReleaseErrs)
			}
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Complete schedules and enrollments that have ended",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, jobs.CompleteEnrollmentsJobName, func(c *app.Container) {
			if s := c.Completion.LastStats(); s != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "date=%s checked=%d completed=%d enrollments=%d failed=%d\n",
					s.Date, s.Checked, s.Completed, s.Enrollments, s.Failed)
			}
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry payout releases the wallet did not confirm",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, jobs.ReconcilePayoutsJobName, func(c *app.Container) {
			if s := c.Reconcile.LastStats(); s != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "pending=%d released=%d amount=%s failed=%d given_up=%d\n",
					s.Pending, s.Released, s.Amount, s.Failed, s.GivenUp)
			}
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry-notifications",
	Short: "Redeliver failed notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, jobs.RetryNotificationsJobName, nil)
	},
}

func runOnce(cmd *cobra.Command, name string, report func(*app.Container)) error {
	var date shared.Date
	if f := cmd.Flags().Lookup("date"); f != nil && f.Value.String() != "" {
		d, err := shared.ParseDate(f.Value.String())
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
		date = d
	}

	ctx := cmd.Context()
	c, err := boot(ctx)
	if err != nil {
		return err
	}
	defer shutdown(c)

	if err := c.RegisterJobs(false); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	var res *scheduler.JobResult
	if date.IsZero() {
		res, err = c.Scheduler.RunNow(ctx, name)
	} else {
		res, err = c.Scheduler.RunForDate(ctx, name, date)
	}
	if report != nil && res != nil {
		report(c)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
