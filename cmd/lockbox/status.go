package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

type statusData struct {
	state       *lockbox.State
	locked      bool
	stages      []lockbox.Stage
	calibration map[string]calibration.Data
	config      *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	locked, err := apiClient.IsLocked()
	if err != nil {
		return nil, fmt.Errorf("failed to check lock: %w", err)
	}

	stages, err := apiClient.GetSequence()
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}

	cal, err := apiClient.GetCalibration()
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		state:       st,
		locked:      locked,
		stages:      stages,
		calibration: cal,
		config:      conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the lockbox",
		Long:    `Get lock state, sequence, calibration and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(data.config, "")
			st := data.state

			cmd.Println(bold("Lock status:"))
			cmd.Printf("  Type: %s\n", bold("%s", st.Classname))
			cmd.Printf("  Phase: %s\n", phase2Text(st.Phase))
			cmd.Printf("  Locked: %s\n", bool2Text(data.locked))
			if st.Phase == lockbox.PhaseSequencing || st.Locked {
				cmd.Printf("  Current stage: %s\n", bold("%d", st.CurrentStage))
			}
			if st.LastError != "" {
				cmd.Printf("  Last error: %s\n", color.RedString(st.LastError))
			}
			cmd.Printf("  Auto-lock: %s\n", bool2Text(st.AutoLock))
			cmd.Printf("  Relocks: %d (first stage entered %d times)\n", st.Relocks, st.FirstStageCounter)

			cmd.Println()

			cmd.Println(bold("Sequence:"))
			for _, s := range data.stages {
				line := fmt.Sprintf("  %d. %s: input %s, gain factor %g, setpoint %g",
					s.Index, bold("%s", s.DisplayName()), s.Input, s.GainFactor, s.Setpoint)
				if s.Duration > 0 {
					line += fmt.Sprintf(", hold %s", s.Duration)
				}
				if s.FunctionCall != "" {
					line += fmt.Sprintf(", calls %s", s.FunctionCall)
				}
				cmd.Println(line)
			}

			cmd.Println()

			cmd.Println(bold("Calibration:"))
			printCalibration(cmd, data.calibration)

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Board: %s\n", bold("%s", conf.Board()))
			cmd.Printf("  Relock check interval: %s\n", bold("%s", conf.RelockInterval()))
			cmd.Printf("  Max relocks: %s\n", bold("%d per %s", conf.MaxRelocks(), conf.RelockWindow()))
			cmd.Printf("  Calibration timeout: %s\n", bold("%s", conf.CalibrationTimeout()))
			if expr := conf.CalibrationCron(); expr != "" {
				cmd.Printf("  Scheduled recalibration: %s\n", bold("%s", expr))
			} else {
				cmd.Printf("  Scheduled recalibration: %s\n", bool2Text(false))
			}
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}
}

func phase2Text(p lockbox.Phase) string {
	switch p {
	case lockbox.PhaseLocked:
		return color.New(color.Bold, color.FgGreen).Sprint(p)
	case lockbox.PhaseUnlocked, lockbox.PhaseAborted:
		return color.New(color.Bold, color.FgRed).Sprint(p)
	case lockbox.PhaseSequencing, lockbox.PhaseCalibrating:
		return color.New(color.Bold, color.FgYellow).Sprint(p)
	default:
		return bold("%s", p)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
