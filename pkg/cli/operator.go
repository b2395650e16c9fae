package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/observability/tracing"
	"github.com/nimburion/queuevisor/pkg/worker"
)

func newSizeCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "size [tube...]",
		Short: "Print the number of pending jobs per tube",
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			cfg, log, err := s.load(cmd)
			if err != nil {
				return err
			}
			tubes := args
			if len(tubes) == 0 {
				tubes = cfg.Queue.Tubes
			}
			backend, err := s.opts.BackendFactory(cmd.Context(), cfg, nil, log)
			if err != nil {
				return fmt.Errorf("open queue backend: %w", err)
			}
			defer backend.Close()

			for _, tube := range tubes {
				size, err := backend.Size(cmd.Context(), tube)
				if err != nil {
					return fmt.Errorf("size of %s: %w", tube, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", tube, size)
			}
			return nil
		}),
	}
	SetCommandPolicy(cmd, PolicyAlways)
	return cmd
}

func newPushCommand(s *session) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "push <tube> <job-name> <payload>",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(3),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			cfg, log, err := s.load(cmd)
			if err != nil {
				return err
			}
			tube, name, payload := args[0], args[1], []byte(args[2])
			if err := requireTube(cfg, tube); err != nil {
				return err
			}
			handlers, err := s.handlers(cfg, log)
			if err != nil {
				return err
			}
			backend, err := s.opts.BackendFactory(cmd.Context(), cfg, handlers, log)
			if err != nil {
				return fmt.Errorf("open queue backend: %w", err)
			}
			defer backend.Close()

			ctx, span := tracing.StartPushSpan(cmd.Context(), tracing.JobSpan{
				System:      cfg.Queue.Backend,
				Tube:        tube,
				Name:        name,
				PayloadSize: len(payload),
			})
			var id string
			if delay > 0 {
				id, err = backend.PushDelayed(ctx, delay, tube, name, payload)
			} else {
				id, err = backend.Push(ctx, tube, name, payload)
			}
			tracing.Finish(span, "", err)
			if err != nil {
				return fmt.Errorf("push to %s: %w", tube, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "make the job available after this delay")
	SetCommandPolicy(cmd, PolicyGuarded)
	return cmd
}

func newStatsCommand(s *session) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats <tube>",
		Short: "Print the most recent worker memory samples of a tube",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			cfg, _, err := s.load(cmd)
			if err != nil {
				return err
			}
			tube := args[0]
			if err := requireTube(cfg, tube); err != nil {
				return err
			}
			stats, err := s.opts.StatsStoreFactory(cfg)
			if err != nil {
				return fmt.Errorf("open stats store: %w", err)
			}
			defer stats.Close()

			samples, err := stats.Recent(cmd.Context(), worker.StatsKey(cfg.Worker.Stats.KeyPrefix, tube), limit)
			if err != nil {
				return err
			}
			for _, sample := range samples {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", sample.At.UTC().Format(time.RFC3339), sample.Bytes)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of samples to print")
	SetCommandPolicy(cmd, PolicyAlways)
	return cmd
}

func requireTube(cfg *config.Config, tube string) error {
	if !cfg.Queue.HasTube(tube) {
		return fmt.Errorf("%w: %s", worker.ErrUnknownTube, tube)
	}
	return nil
}
