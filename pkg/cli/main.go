// Package cli builds the queuevisor command tree: the manager and worker
// processes, the control flag commands and the operator tooling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/coordination"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/queue"
	"github.com/nimburion/queuevisor/pkg/supervisor"
	"github.com/nimburion/queuevisor/pkg/worker"
)

const (
	policiesAnnotationPrefix = "policies."
	guardPolicyContext       = "guard"
	defaultEnvPrefix         = "QUEUEVISOR"
)

// ErrQueueStopped is returned by guarded commands while the stop flag is raised.
var ErrQueueStopped = errors.New("queue is stopped")

// CommandPolicy tells the stopped-queue guard how to treat a command.
type CommandPolicy string

const (
	// PolicyAlways commands run even while the queue is stopped.
	PolicyAlways CommandPolicy = "always"
	// PolicyGuarded commands are rejected while the queue is stopped.
	PolicyGuarded CommandPolicy = "guarded"
)

// StoreFactory opens the coordination store.
type StoreFactory func(cfg *config.Config, log logger.Logger) (coordination.Store, error)

// BackendFactory opens the queue backend.
type BackendFactory func(ctx context.Context, cfg *config.Config, handlers *queue.Handlers, log logger.Logger) (queue.Backend, error)

// SpawnerFactory builds the spawner used by the manager. configPath is the
// resolved --config-file value, empty when none was given.
type SpawnerFactory func(cfg *config.Config, configPath string, log logger.Logger) (supervisor.Spawner, error)

// StatsStore writes and reads worker memory samples.
type StatsStore interface {
	worker.StatsSink
	Recent(ctx context.Context, key string, limit int) ([]worker.Sample, error)
	Close() error
}

// StatsStoreFactory opens the stats store.
type StatsStoreFactory func(cfg *config.Config) (StatsStore, error)

// Options defines the service-specific parts of the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// ConfigureHandlers registers the job handlers run by "work" and by the
	// sync backend on "push".
	ConfigureHandlers func(cfg *config.Config, log logger.Logger, handlers *queue.Handlers) error

	// Optional: additional custom commands, guarded unless they carry a policy.
	CustomCommands []*cobra.Command

	// Optional factories, mostly overridden in tests.
	StoreFactory      StoreFactory
	BackendFactory    BackendFactory
	SpawnerFactory    SpawnerFactory
	StatsStoreFactory StatsStoreFactory
}

func (o *Options) normalize() {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = "queuevisor"
	}
	if strings.TrimSpace(o.EnvPrefix) == "" {
		o.EnvPrefix = defaultEnvPrefix
	}
	if o.StoreFactory == nil {
		o.StoreFactory = func(cfg *config.Config, log logger.Logger) (coordination.Store, error) {
			return coordination.NewStore(cfg.Coordination, log)
		}
	}
	if o.BackendFactory == nil {
		o.BackendFactory = func(ctx context.Context, cfg *config.Config, handlers *queue.Handlers, log logger.Logger) (queue.Backend, error) {
			return queue.NewBackend(ctx, cfg.Queue, handlers, log)
		}
	}
	if o.SpawnerFactory == nil {
		o.SpawnerFactory = defaultSpawner
	}
	if o.StatsStoreFactory == nil {
		o.StatsStoreFactory = func(cfg *config.Config) (StatsStore, error) {
			return worker.NewRedisStatsSink(cfg.StatsRedisURL())
		}
	}
}

func defaultSpawner(cfg *config.Config, configPath string, log logger.Logger) (supervisor.Spawner, error) {
	args := append([]string(nil), cfg.Supervisor.Args...)
	if configPath != "" {
		args = append(args, "--config-file", configPath)
	}
	return supervisor.NewExecSpawner(supervisor.ExecConfig{
		Executable: cfg.Supervisor.Executable,
		Args:       args,
		Stats:      cfg.Worker.Stats.Enabled,
	}, log)
}

// session holds what one invocation loaded, so the guard and the command
// share a single config, logger and store.
type session struct {
	opts    *Options
	cfgPath string

	cfg   *config.Config
	log   logger.Logger
	sync  func() error
	store coordination.Store
	flags *coordination.Flags
}

func (s *session) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	if s.cfg != nil {
		return s.cfg, s.log, nil
	}
	cfg, log, err := LoadConfigAndLogger(s.cfgPath, s.opts.EnvPrefix, s.opts.Name, cmd.Flags(), cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	s.cfg, s.log = cfg, log
	if zl, ok := log.(*logger.ZapLogger); ok {
		s.sync = zl.Sync
	}
	return cfg, log, nil
}

func (s *session) controlFlags(cmd *cobra.Command) (*coordination.Flags, error) {
	if s.flags != nil {
		return s.flags, nil
	}
	cfg, log, err := s.load(cmd)
	if err != nil {
		return nil, err
	}
	store, err := s.opts.StoreFactory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}
	flags, err := coordination.NewFlagsFromConfig(store, cfg.Coordination)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.store, s.flags = store, flags
	return flags, nil
}

func (s *session) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil && s.log != nil {
			s.log.Warn("failed to close coordination store", "error", err)
		}
		s.store, s.flags = nil, nil
	}
	if s.sync != nil {
		_ = s.sync()
	}
}

// run wraps a command body so the session is released when it returns.
func (s *session) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer s.close()
		return fn(cmd, args)
	}
}

// guard rejects guarded commands while the stop flag is raised. The
// rejection waits supervisor.reject_backoff first so that a manager loop
// restarting rejected workers does not spin.
func (s *session) guard(cmd *cobra.Command, _ []string) error {
	if commandPolicy(cmd) != PolicyGuarded {
		return nil
	}
	flags, err := s.controlFlags(cmd)
	if err != nil {
		s.close()
		return err
	}
	stopped, err := flags.IsStopped(cmd.Context())
	if err != nil {
		s.close()
		return err
	}
	if !stopped {
		return nil
	}
	defer s.close()

	timer := time.NewTimer(s.cfg.Supervisor.RejectBackoff)
	defer timer.Stop()
	select {
	case <-cmd.Context().Done():
	case <-timer.C:
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Queue is stopped")
	return ErrQueueStopped
}

// NewCommand creates the queuevisor command tree.
func NewCommand(opts Options) *cobra.Command {
	opts.normalize()
	s := &session{opts: &opts}

	rootCmd := &cobra.Command{
		Use:               opts.Name,
		Short:             opts.Description,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: s.guard,
	}
	SetCommandPolicy(rootCmd, PolicyAlways)

	rootCmd.PersistentFlags().StringVarP(&s.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, text)")

	rootCmd.AddCommand(
		newManagerCommand(s),
		newWorkCommand(s),
		newRestartCommand(s),
		newStopCommand(s),
		newRestoreCommand(s),
		newStatusCommand(s),
		newSizeCommand(s),
		newPushCommand(s),
		newStatsCommand(s),
		newVersionCommand(s),
		newConfigCommand(s),
	)

	for _, customCmd := range opts.CustomCommands {
		if _, ok := customCmd.Annotations[policiesAnnotationPrefix+guardPolicyContext]; !ok {
			SetCommandPolicy(customCmd, PolicyGuarded)
		}
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	rootCmd.InitDefaultHelpCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd.Name() == "completion" || subCmd.Name() == "help" {
			SetCommandPolicy(subCmd, PolicyAlways)
		}
	}
	return rootCmd
}

// SetCommandPolicy records the guard policy in the command annotations.
func SetCommandPolicy(cmd *cobra.Command, policy CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[policiesAnnotationPrefix+guardPolicyContext] = string(policy)
}

// GetCommandPolicies returns the policies stored on cmd, keyed by context.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		context, ok := strings.CutPrefix(key, policiesAnnotationPrefix)
		if !ok || strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

// commandPolicy resolves the guard policy of cmd, inheriting from the
// nearest annotated parent. The root itself is exempt.
func commandPolicy(cmd *cobra.Command) CommandPolicy {
	for c := cmd; c != nil; c = c.Parent() {
		if policy, ok := GetCommandPolicies(c)[guardPolicyContext]; ok {
			return CommandPolicy(policy)
		}
	}
	return PolicyAlways
}

// LoadConfigAndLogger loads the configuration and builds the logger, which
// writes to logOutput.
func LoadConfigAndLogger(cfgPath, envPrefix, defaultServiceName string, flags *pflag.FlagSet, logOutput io.Writer) (*config.Config, logger.Logger, error) {
	if envPrefix == "" {
		envPrefix = defaultEnvPrefix
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		WithFlags(flags).
		Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	format, err := logger.ParseLogFormat(cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	log, err := logger.NewZapLogger(logger.Config{
		Level:   level,
		Format:  format,
		Output:  logOutput,
		Service: cfg.Service.Name,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if log.Enabled(logger.DebugLevel) {
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg))
	}
	return cfg, log, nil
}

// Execute runs the command and exits with status 1 on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
