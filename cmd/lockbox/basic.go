package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/lockbox"
	"github.com/charlie0129/lockbox/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewLockCommand() *cobra.Command {
	wait := false

	cmd := &cobra.Command{
		Use:     "lock",
		Short:   "Run the lock sequence",
		GroupID: gBasic,
		Long: `Run the lock sequence from the first stage.

By default the sequence runs in the background and this command returns immediately. Use --wait to block until the sequence is locked or has failed.

Use "lockbox unlock" to cancel a running sequence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !wait {
				ret, err := apiClient.Lock()
				if err != nil {
					return fmt.Errorf("failed to lock: %w", err)
				}
				logrus.Infof("daemon responded: %s", unquote(ret))
				return nil
			}

			res, err := apiClient.LockAndWait()
			if err != nil {
				return fmt.Errorf("failed to lock: %w", err)
			}

			switch res.Outcome {
			case lockbox.OutcomeLocked:
				cmd.Printf("locked after stage %d\n", res.Stage)
			case lockbox.OutcomeCancelled:
				cmd.Println("lock sequence was cancelled")
			default:
				return fmt.Errorf("lock sequence failed at stage %d (%s): %s", res.Stage, res.Outcome, res.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the sequence to finish")

	return cmd
}

func NewUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "unlock",
		Short:   "Cancel the lock sequence and disengage all outputs",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Unlock()
			if err != nil {
				return fmt.Errorf("failed to unlock: %w", err)
			}
			logrus.Debugf("daemon responded: %s", unquote(ret))
			logrus.Info("successfully unlocked")
			return nil
		},
	}
}

func NewIsLockedCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "is-locked",
		Short:   "Check whether the lock is held right now",
		GroupID: gBasic,
		Long: `Check whether the lock is held right now.

Prints true or false. The lock counts as held when the sequence finished and the error signal of the last stage is within the lock window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			locked, err := apiClient.IsLocked()
			if err != nil {
				return err
			}
			cmd.Println(locked)
			return nil
		},
	}
}

func NewAutoLockCommand() *cobra.Command {
	return newEnableDisableCommand(
		"auto-lock",
		"automatic relocking",
		`Automatically rerun the lock sequence when the lock is lost.

Relocking pauses when the lock is lost too often, see maxRelocks and relockWindowSeconds in the config file.`,
		func() (string, error) { return apiClient.SetAutoLock(true) },
		func() (string, error) { return apiClient.SetAutoLock(false) },
	)
}

func NewClassnameCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "classname [name]",
		Short:   "Show or change the lockbox type",
		GroupID: gAdvanced,
		Long: fmt.Sprintf(`Show or change the lockbox type.

Changing the type rebuilds the input and output channels and adapts every stage to them. A running sequence is aborted.

Available types: %v`, lockbox.Models()),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				st, err := apiClient.GetState()
				if err != nil {
					return err
				}
				cmd.Println(st.Classname)
				return nil
			}

			_, err := apiClient.SetClassname(args[0])
			if err != nil {
				return fmt.Errorf("failed to set classname: %w", err)
			}
			logrus.Infof("successfully set classname to %s", args[0])
			return nil
		},
	}
}
