package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/calibration"
)

func NewCalibrateCommand() *cobra.Command {
	show := false

	cmd := &cobra.Command{
		Use:     "calibrate [input]",
		Aliases: []string{"cali"},
		Short:   "Calibrate inputs by sweeping the first output",
		Long: `Calibrate inputs by sweeping the first output.

Without an argument every input is calibrated. The lock is released first. Gains of the lock sequence are scaled by the measured amplitudes, so calibrate again after changing the optical setup.`,
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data map[string]calibration.Data
			var err error
			if show {
				data, err = apiClient.GetCalibration()
			} else {
				input := ""
				if len(args) == 1 {
					input = args[0]
				}
				data, err = apiClient.Calibrate(input)
			}
			if err != nil {
				return fmt.Errorf("failed to calibrate: %w", err)
			}

			printCalibration(cmd, data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Show the stored calibration instead of calibrating")

	return cmd
}

func printCalibration(cmd *cobra.Command, data map[string]calibration.Data) {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := data[name]
		if !d.Valid() {
			cmd.Printf("  %s: %s\n", bold("%s", name), "not calibrated")
			continue
		}
		cmd.Printf("  %s: mean %s, amplitude %s, min %.4f, max %.4f, std %.4f (%d samples, %s)\n",
			bold("%s", name),
			bold("%.4f V", d.Mean),
			bold("%.4f V", d.Amplitude),
			d.Min, d.Max, d.Std, d.Samples,
			d.Time.Local().Format("2006-01-02 15:04:05"))
	}
}
