package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/health"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/observability/metrics"
	"github.com/nimburion/queuevisor/pkg/observability/tracing"
	"github.com/nimburion/queuevisor/pkg/queue"
	"github.com/nimburion/queuevisor/pkg/server"
	"github.com/nimburion/queuevisor/pkg/supervisor"
	"github.com/nimburion/queuevisor/pkg/version"
	"github.com/nimburion/queuevisor/pkg/worker"
)

func newManagerCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run one worker process per configured tube and keep them alive",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			cfg, log, err := s.load(cmd)
			if err != nil {
				return err
			}
			flags, err := s.controlFlags(cmd)
			if err != nil {
				return err
			}
			spawner, err := s.opts.SpawnerFactory(cfg, s.cfgPath, log)
			if err != nil {
				return fmt.Errorf("create worker spawner: %w", err)
			}
			sup, err := supervisor.New(spawner, flags, log, supervisor.NewConfig(cfg),
				supervisor.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			checks := health.NewRegistry()
			checks.Register(health.NewStoreChecker(s.store))
			checks.Register(health.NewFlagsChecker(flags))
			return runWithManagement(runCtx, cfg.Observability.MetricsEnabled, cfg.Observability.MetricsAddress, cfg, checks, log, sup.Run)
		}),
	}
	SetCommandPolicy(cmd, PolicyGuarded)
	return cmd
}

func newWorkCommand(s *session) *cobra.Command {
	var metricsAddress string
	cmd := &cobra.Command{
		Use:   "work <tube>",
		Short: "Consume jobs from one tube until stopped or restarted",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			cfg, log, err := s.load(cmd)
			if err != nil {
				return err
			}
			tube := args[0]
			if err := requireTube(cfg, tube); err != nil {
				return err
			}
			flags, err := s.controlFlags(cmd)
			if err != nil {
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
			defer func() {
				if closeErr := backend.Close(); closeErr != nil {
					log.Error("failed to close queue backend", "error", closeErr)
				}
			}()

			loopOpts := []worker.Option{worker.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())}
			if cfg.Worker.Stats.Enabled {
				stats, err := s.opts.StatsStoreFactory(cfg)
				if err != nil {
					return fmt.Errorf("open stats store: %w", err)
				}
				defer func() {
					if closeErr := stats.Close(); closeErr != nil {
						log.Warn("failed to close stats store", "error", closeErr)
					}
				}()
				loopOpts = append(loopOpts, worker.WithStatsSink(stats))
			}

			tracer, err := tracing.NewTracerProvider(cmd.Context(), tracing.TracerConfig{
				ServiceName:    cfg.Service.Name,
				ServiceVersion: version.Current(cfg.Service.Name).Version,
				Environment:    cfg.Service.Environment,
				Tube:           tube,
				Endpoint:       cfg.Observability.TracingEndpoint,
				SampleRate:     cfg.Observability.TracingSampleRate,
				Enabled:        cfg.Observability.TracingEnabled,
			})
			if err != nil {
				return fmt.Errorf("create tracer provider: %w", err)
			}
			defer func() {
				if shutdownErr := tracer.Shutdown(context.WithoutCancel(cmd.Context())); shutdownErr != nil {
					log.Warn("failed to shut down tracer provider", "error", shutdownErr)
				}
			}()

			loop, err := worker.NewLoop(backend, handlers, flags, log, worker.NewConfig(tube, cfg), loopOpts...)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			checks := health.NewRegistry()
			checks.Register(health.NewStoreChecker(s.store))
			checks.Register(health.NewBackendChecker(backend))
			checks.Register(health.NewFlagsChecker(flags))
			return runWithManagement(runCtx, metricsAddress != "", metricsAddress, cfg, checks, log, loop.Run)
		}),
	}
	cmd.Flags().Bool("stats", false, "record memory samples for this tube")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "serve metrics and health on this address")
	SetCommandPolicy(cmd, PolicyGuarded)
	return cmd
}

func (s *session) handlers(cfg *config.Config, log logger.Logger) (*queue.Handlers, error) {
	handlers := queue.NewHandlers()
	if s.opts.ConfigureHandlers != nil {
		if err := s.opts.ConfigureHandlers(cfg, log, handlers); err != nil {
			return nil, fmt.Errorf("configure handlers: %w", err)
		}
	}
	return handlers, nil
}

// runWithManagement runs fn and, when enabled, the management server next
// to it. The server stops once fn returns.
func runWithManagement(ctx context.Context, enabled bool, address string, cfg *config.Config, checks *health.Registry, log logger.Logger, fn func(context.Context) error) error {
	if !enabled {
		return fn(ctx)
	}
	srv, err := server.NewManagementServer(server.Config{
		Address:     address,
		MetricsPath: cfg.Observability.MetricsPath,
	}, metrics.NewRegistry(), checks, log)
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gctx := errgroup.WithContext(serverCtx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		defer stopServer()
		return fn(gctx)
	})
	return g.Wait()
}
