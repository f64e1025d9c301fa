package main

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewSequenceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sequence",
		Aliases: []string{"seq"},
		Short:   "Inspect and edit the lock sequence",
		GroupID: gSequence,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the stages",
			RunE: func(cmd *cobra.Command, _ []string) error {
				stages, err := apiClient.GetSequence()
				if err != nil {
					return err
				}
				for _, s := range stages {
					cmd.Printf("%d\t%s\tinput=%s\tgain_factor=%g\tsetpoint=%g\tduration=%s\tfunction_call=%s\n",
						s.Index, s.DisplayName(), s.Input, s.GainFactor, s.Setpoint, s.Duration, s.FunctionCall)
					for _, name := range sortedKeys(s.Outputs) {
						o := s.Outputs[name]
						cmd.Printf("\t  %s: lock_on=%t reset_offset=%t\n", name, o.LockOn, o.ResetOffset)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "append [key=value]...",
			Short: "Append a stage",
			Long: `Append a stage built from the default stage with the given attributes.

Keys: name, gain_factor, input, setpoint, duration (seconds), function_call.

Example:
  lockbox sequence append name=fine gain_factor=10 duration=0.5`,
			RunE: func(cmd *cobra.Command, args []string) error {
				attrs, err := parseAttrs(args)
				if err != nil {
					return err
				}
				st, err := apiClient.AppendStage(attrs)
				if err != nil {
					return err
				}
				logrus.Infof("appended stage %s at index %d", st.DisplayName(), st.Index)
				return nil
			},
		},
		&cobra.Command{
			Use:   "pop [index]",
			Short: "Remove a stage, the last one by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				index := -1
				if len(args) == 1 {
					var err error
					index, err = parseIntArg(args, "index")
					if err != nil {
						return err
					}
				}
				st, err := apiClient.PopStage(index)
				if err != nil {
					return err
				}
				logrus.Infof("removed stage %s", st.DisplayName())
				return nil
			},
		},
		&cobra.Command{
			Use:   "input [index] [input]",
			Short: "Set the error signal of a stage",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := parseIntArg(args[:1], "index")
				if err != nil {
					return err
				}
				st, err := apiClient.SetStageInput(index, args[1])
				if err != nil {
					return fmt.Errorf("failed to set input: %w", err)
				}
				logrus.Infof("stage %s now uses input %s", st.DisplayName(), st.Input)
				return nil
			},
		},
	)

	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
