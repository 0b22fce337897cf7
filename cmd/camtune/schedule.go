package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sche", "sched"},
		Short:   "Manage automatic calibration schedule",
		Long: `Manage automatic calibration schedule.

The schedule command can be used in multiple ways:
  camtune schedule 'minute hour day month weekday' Set schedule with cron expression
  camtune schedule disable                         Disable the schedule
  camtune schedule postpone [duration]             Postpone next run
  camtune schedule skip                            Skip next run
  camtune schedule show                            Show current schedule

Lighting that changes over the day is the usual reason for a schedule. A run
only starts when no other calibration is active and the camera delivers
frames; otherwise it is retried for a few minutes and then given up.`,
		Example: `  camtune schedule '0 8 * * *'     (At 08:00 every day)
  camtune schedule '0 */2 * * *'   (Every two hours)
  camtune schedule '@every 30m'    (Every 30 minutes)
  camtune schedule '0 7,19 * * *'  (At 07:00 and 19:00)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			// Otherwise, treat as a cron expression to set
			return runScheduleSet(cmd, args[0])
		},
	}

	// Add subcommands
	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the calibration schedule",
		Long:  "Disable the automatic calibration schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleDisable(cmd)
		},
	}
	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled calibration run",
		Example: `  camtune schedule postpone      (Postpone by 1 hour)
  camtune schedule postpone 90m  (Postpone by 90 minutes)
  camtune schedule postpone 2h   (Postpone by 2 hours)`,
		Long: `Postpone the next scheduled calibration run by a specified duration.
If no duration is provided, defaults to 1 hour. The postponed run must still
come before the run after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour // default
			if duration != 0 {
				d = duration
			}
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "Duration to postpone (e.g., 1h, 90m)")
	return cmd
}

func newScheduleSkipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled calibration run",
		Long:  "Skip the next scheduled calibration run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSkip(cmd)
		},
	}
	return cmd
}

func newScheduleShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current calibration schedule",
		Long:  "Show the current calibration schedule and next run times.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleShow(cmd)
		},
	}
	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	sr, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	if len(sr.NextRuns) == 0 {
		cmd.Println("Calibration schedule disabled.")
		return nil
	}
	cmd.Printf("Calibration scheduled. Next %d run(s):\n", len(sr.NextRuns))
	for _, run := range sr.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.Schedule(""); err != nil {
		return err
	}
	cmd.Println("Calibration schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	next, err := apiClient.Postpone(duration)
	if err != nil {
		return err
	}
	cmd.Printf("Next run postponed by %s, to %s.\n", duration, next.Local().Format(time.DateTime))
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	next, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Printf("Next scheduled run skipped. The one after is at %s.\n", next.Local().Format(time.DateTime))
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	sr, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if sr.Expr == "" || len(sr.NextRuns) == 0 {
		cmd.Println("Calibration schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", bold("%s", sr.Expr))
	cmd.Printf("Next %d run(s):\n", len(sr.NextRuns))
	for _, run := range sr.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}
