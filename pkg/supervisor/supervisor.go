// Package supervisor keeps one worker process per tube alive until a stop
// or restart is requested.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/coordination"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	outputBuffer        = 256
)

// Config configures a Supervisor.
type Config struct {
	Tubes        []string
	PollInterval time.Duration
	// RespawnRate limits respawns per tube per second. Zero disables the
	// limit.
	RespawnRate  float64
	RespawnBurst int
}

func (c *Config) normalize() {
	tubes := make([]string, 0, len(c.Tubes))
	for _, tube := range c.Tubes {
		if trimmed := strings.TrimSpace(tube); trimmed != "" {
			tubes = append(tubes, trimmed)
		}
	}
	c.Tubes = tubes
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RespawnBurst <= 0 {
		c.RespawnBurst = 1
	}
}

// NewConfig derives the supervisor configuration from the application
// configuration.
func NewConfig(cfg *config.Config) Config {
	return Config{
		Tubes:        cfg.Queue.Tubes,
		PollInterval: cfg.Supervisor.PollInterval,
		RespawnRate:  cfg.Supervisor.RespawnRate,
		RespawnBurst: cfg.Supervisor.RespawnBurst,
	}
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithOutput redirects the supervisor's own lines and the relayed worker
// output. nil keeps the default.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		if stdout != nil {
			s.stdout = stdout
		}
		if stderr != nil {
			s.stderr = stderr
		}
	}
}

type slot struct {
	tube    string
	proc    Process
	limiter *rate.Limiter
	retired bool
}

func (sl *slot) exited() bool {
	return sl.proc == nil || sl.proc.Exited()
}

// Supervisor runs the monitor loop over an ordered table of worker slots,
// one per tube.
type Supervisor struct {
	spawner Spawner
	flags   *coordination.Flags
	log     logger.Logger
	config  Config

	outMu  sync.Mutex
	stdout io.Writer
	stderr io.Writer

	slots           []*slot
	restartObserved bool
}

// New validates cfg and returns a supervisor. It does not start anything.
func New(spawner Spawner, flags *coordination.Flags, log logger.Logger, cfg Config, opts ...Option) (*Supervisor, error) {
	if spawner == nil {
		return nil, errors.New("spawner is required")
	}
	if flags == nil {
		return nil, errors.New("control flags are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if len(cfg.Tubes) == 0 {
		return nil, errors.New("at least one tube is required")
	}

	s := &Supervisor{
		spawner: spawner,
		flags:   flags,
		log:     log,
		config:  cfg,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts one worker per tube and keeps them alive until every slot has
// retired. A slot retires once its worker has exited while the stop or
// restart flag is raised, or after ctx is cancelled. Cancelling ctx also
// interrupts the running workers. The restart flag is cleared once, after
// all slots retired, when it is still raised.
func (s *Supervisor) Run(ctx context.Context) error {
	output := make(chan OutputLine, outputBuffer)
	printed := make(chan struct{})
	go s.relay(output, printed)
	defer func() {
		close(output)
		<-printed
	}()

	s.start(output)
	s.monitor(ctx, output)

	clearCtx := context.WithoutCancel(ctx)
	if s.restartPending(clearCtx) {
		if err := s.flags.ClearRestart(clearCtx); err != nil {
			s.log.Error("failed to clear restart flag", "error", err)
			return fmt.Errorf("clear restart flag: %w", err)
		}
		s.log.Info("restart flag cleared")
	}
	return nil
}

func (s *Supervisor) start(output chan<- OutputLine) {
	s.printf(StreamStdout, "Listening jobs from: %s\n", strings.Join(s.config.Tubes, ", "))

	s.slots = make([]*slot, 0, len(s.config.Tubes))
	for _, tube := range s.config.Tubes {
		proc, err := s.spawner.Spawn(tube, output)
		if err != nil {
			recordSpawnFailure(tube)
			s.log.Error("failed to start worker, tube left unmonitored", "tube", tube, "error", err)
			s.printf(StreamStderr, "%v\n", err)
			continue
		}

		sl := &slot{tube: tube, proc: proc}
		if s.config.RespawnRate > 0 {
			sl.limiter = rate.NewLimiter(rate.Limit(s.config.RespawnRate), s.config.RespawnBurst)
		}
		s.slots = append(s.slots, sl)
		workersGauge.Inc()
		s.printf(StreamStdout, "Running worker for tube: %s\n", tube)
		s.log.Debug("worker started", "tube", tube, "worker_pid", proc.Pid())
	}
}

func (s *Supervisor) monitor(ctx context.Context, output chan<- OutputLine) {
	interrupted := false
	for {
		remaining := 0
		for _, sl := range s.slots {
			if sl.retired {
				continue
			}
			if ctx.Err() != nil && !interrupted {
				s.interruptAll()
				interrupted = true
			}
			s.check(ctx, sl, output)
			if !sl.retired {
				remaining++
			}
			time.Sleep(s.config.PollInterval)
		}
		if remaining == 0 {
			return
		}
	}
}

func (s *Supervisor) check(ctx context.Context, sl *slot, output chan<- OutputLine) {
	if !sl.exited() {
		return
	}
	if sl.proc != nil {
		if err := sl.proc.Err(); err != nil {
			s.log.Warn("worker exited with error", "tube", sl.tube, "worker_pid", sl.proc.Pid(), "error", err)
		} else {
			s.log.Debug("worker exited", "tube", sl.tube, "worker_pid", sl.proc.Pid())
		}
	}

	if s.draining(ctx) {
		sl.retired = true
		sl.proc = nil
		recordRetired(sl.tube)
		s.log.Info("worker retired", "tube", sl.tube)
		return
	}

	if sl.limiter != nil && !sl.limiter.Allow() {
		sl.proc = nil
		return
	}
	proc, err := s.spawner.Spawn(sl.tube, output)
	if err != nil {
		sl.proc = nil
		recordSpawnFailure(sl.tube)
		s.log.Error("failed to restart worker", "tube", sl.tube, "error", err)
		return
	}
	sl.proc = proc
	recordRespawn(sl.tube)
	s.printf(StreamStdout, "Restarting worker for: %s\n", sl.tube)
}

// draining reports whether exited workers should be retired. Flag read
// errors keep the workers running.
func (s *Supervisor) draining(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	stopped, err := s.flags.IsStopped(ctx)
	if err != nil {
		s.log.Warn("control flag read failed", "error", err)
		return false
	}
	restart, err := s.flags.ShouldRestart(ctx)
	if err != nil {
		s.log.Warn("control flag read failed", "error", err)
		return stopped
	}
	if restart {
		s.restartObserved = true
	}
	return stopped || restart
}

// restartPending reports whether the restart flag has to be cleared once the
// slots are gone. The flag is read again because a cancelled run retires its
// slots without looking at the flags.
func (s *Supervisor) restartPending(ctx context.Context) bool {
	restart, err := s.flags.ShouldRestart(ctx)
	if err != nil {
		s.log.Warn("control flag read failed", "error", err)
		return s.restartObserved
	}
	return restart
}

func (s *Supervisor) interruptAll() {
	s.log.Info("supervisor cancelled, interrupting workers")
	for _, sl := range s.slots {
		if sl.retired || sl.exited() {
			continue
		}
		if err := sl.proc.Interrupt(); err != nil {
			s.log.Warn("failed to interrupt worker", "tube", sl.tube, "worker_pid", sl.proc.Pid(), "error", err)
		}
	}
}

func (s *Supervisor) relay(lines <-chan OutputLine, done chan<- struct{}) {
	defer close(done)
	for line := range lines {
		s.printf(line.Stream, "%s\n", line.Text)
	}
}

func (s *Supervisor) printf(stream Stream, format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	w := s.stdout
	if stream == StreamStderr {
		w = s.stderr
	}
	fmt.Fprintf(w, format, args...)
}
