package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sched"},
		Short:   "Manage scheduled recalibration",
		Long: `Manage scheduled recalibration.

The daemon recalibrates every input on the schedule, unless the lockbox is locked or running a sequence at that time.
  lockbox schedule 'minute hour day month weekday' Set schedule with cron expression
  lockbox schedule disable                         Disable recalibration
  lockbox schedule postpone [duration]             Postpone next run
  lockbox schedule skip                            Skip next run
  lockbox schedule show                            Show upcoming runs`,
		Example: `  lockbox schedule '0 6 * * *'   (At 06:00 every day)
  lockbox schedule '@every 4h'   (Every four hours)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable scheduled recalibration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.Schedule(""); err != nil {
					return err
				}
				cmd.Println("Recalibration schedule disabled.")
				return nil
			},
		},
		newSchedulePostponeCommand(),
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled recalibration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				runs, err := apiClient.SkipSchedule()
				if err != nil {
					return err
				}
				cmd.Println("Next scheduled recalibration skipped.")
				printRuns(cmd, runs)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show upcoming recalibrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled recalibration",
		Long: `Postpone the next scheduled recalibration by a duration, 1 hour by default.
The postponed run must still come before the following one.`,
		Example: `  lockbox schedule postpone      (Postpone by 1 hour)
  lockbox schedule postpone 90m  (Postpone by 90 minutes)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}

			runs, err := apiClient.PostponeSchedule(d)
			if err != nil {
				return err
			}
			cmd.Printf("Next recalibration postponed by %s.\n", d)
			printRuns(cmd, runs)
			return nil
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	runs, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	cmd.Println("Recalibration scheduled.")
	printRuns(cmd, runs)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	runs, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	printRuns(cmd, runs)
	return nil
}

func printRuns(cmd *cobra.Command, runs []time.Time) {
	if len(runs) == 0 {
		cmd.Println("Recalibration schedule is not set.")
		return
	}
	cmd.Printf("Next %d run(s):\n", len(runs))
	for _, run := range runs {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
