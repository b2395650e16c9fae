package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestartCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Ask the manager to restart every worker",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			flags, err := s.controlFlags(cmd)
			if err != nil {
				return err
			}
			if err := flags.Restart(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Unable to order restart")
				return fmt.Errorf("raise restart flag: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Restart command issued")
			return nil
		}),
	}
	SetCommandPolicy(cmd, PolicyGuarded)
	return cmd
}

func newStopCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the manager and every worker",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			flags, err := s.controlFlags(cmd)
			if err != nil {
				return err
			}
			if err := flags.Stop(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Unable to order processes to stop")
				return fmt.Errorf("raise stop flag: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			return nil
		}),
	}
	SetCommandPolicy(cmd, PolicyGuarded)
	return cmd
}

func newRestoreCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Clear the stop flag so the queue can be started again",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			flags, err := s.controlFlags(cmd)
			if err != nil {
				return err
			}
			if err := flags.Restore(cmd.Context()); err != nil {
				return fmt.Errorf("clear stop flag: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Restored")
			return nil
		}),
	}
	SetCommandPolicy(cmd, PolicyAlways)
	return cmd
}

func newStatusCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stop and restart flags",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			flags, err := s.controlFlags(cmd)
			if err != nil {
				return err
			}
			stopped, err := flags.IsStopped(cmd.Context())
			if err != nil {
				return err
			}
			restart, err := flags.ShouldRestart(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped: %t\nrestart: %t\n", stopped, restart)
			return nil
		}),
	}
	SetCommandPolicy(cmd, PolicyAlways)
	return cmd
}
