// Package worker runs the single-tube job loop executed by every worker
// subprocess.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/coordination"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/observability/tracing"
	"github.com/nimburion/queuevisor/pkg/queue"
	"github.com/nimburion/queuevisor/pkg/resilience"
)

const (
	DefaultPollInterval     = 10 * time.Millisecond
	DefaultFailureThreshold = 3
	DefaultPopFailureLimit  = 5
	DefaultPopBackoff       = time.Second

	DefaultStatsInterval   = 3 * time.Second
	DefaultStatsMaxEntries = 100
	DefaultStatsKeyPrefix  = "queue:stats:"
)

// ErrUnknownTube is returned when a loop is built for a tube that is not
// configured.
var ErrUnknownTube = errors.New("unknown tube")

// StatsConfig controls memory sampling.
type StatsConfig struct {
	Enabled    bool
	Interval   time.Duration
	MaxEntries int
	KeyPrefix  string
}

func (c *StatsConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultStatsInterval
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultStatsMaxEntries
	}
	if strings.TrimSpace(c.KeyPrefix) == "" {
		c.KeyPrefix = DefaultStatsKeyPrefix
	}
}

// Config configures one worker loop.
type Config struct {
	// Tube is the tube this loop consumes. It must be listed in Tubes when
	// Tubes is not empty.
	Tube  string
	Tubes []string

	// Backend names the queue backend on trace spans.
	Backend string

	PollInterval     time.Duration
	FlagPollInterval time.Duration
	FailureThreshold int
	// SkipDelete leaves successfully handled jobs to the handler or the
	// backend instead of deleting them.
	SkipDelete     bool
	AttemptTimeout time.Duration

	// PopFailureLimit consecutive pop errors open a breaker that skips
	// popping for PopBackoff.
	PopFailureLimit int
	PopBackoff      time.Duration

	Stats StatsConfig
}

func (c *Config) normalize() {
	c.Tube = strings.TrimSpace(c.Tube)
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FlagPollInterval <= 0 {
		c.FlagPollInterval = coordination.DefaultFlagPollInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.PopFailureLimit <= 0 {
		c.PopFailureLimit = DefaultPopFailureLimit
	}
	if c.PopBackoff <= 0 {
		c.PopBackoff = DefaultPopBackoff
	}
	c.Stats.normalize()
}

// NewConfig derives the loop configuration for tube from the application
// configuration.
func NewConfig(tube string, cfg *config.Config) Config {
	return Config{
		Tube:             tube,
		Tubes:            cfg.Queue.Tubes,
		Backend:          cfg.Queue.Backend,
		PollInterval:     cfg.Worker.PollInterval,
		FlagPollInterval: cfg.Coordination.FlagPollInterval,
		FailureThreshold: cfg.Worker.FailureThreshold,
		SkipDelete:       !cfg.Worker.DeleteAfterHandle,
		AttemptTimeout:   cfg.Worker.AttemptTimeout,
		PopFailureLimit:  cfg.Worker.PopFailureLimit,
		PopBackoff:       cfg.Worker.PopBackoff,
		Stats: StatsConfig{
			Enabled:    cfg.Worker.Stats.Enabled,
			Interval:   cfg.Worker.Stats.Interval,
			MaxEntries: cfg.Worker.Stats.MaxEntries,
			KeyPrefix:  cfg.Worker.Stats.KeyPrefix,
		},
	}
}

// Option customises a Loop.
type Option func(*Loop)

// WithOutput redirects the user-facing lines. nil keeps the default.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(l *Loop) {
		if stdout != nil {
			l.stdout = stdout
		}
		if stderr != nil {
			l.stderr = stderr
		}
	}
}

// WithStatsSink sets where memory samples go when stats are enabled.
func WithStatsSink(sink StatsSink) Option {
	return func(l *Loop) { l.sink = sink }
}

// WithMemorySampler replaces ProcessMemory as the source of samples.
func WithMemorySampler(sample func() uint64) Option {
	return func(l *Loop) {
		if sample != nil {
			l.memory = sample
		}
	}
}

// Loop pops jobs from one tube and hands them to their handlers until a
// stop or restart is requested.
type Loop struct {
	backend  queue.Backend
	handlers *queue.Handlers
	flags    *coordination.Flags
	log      logger.Logger
	config   Config

	tracker *FailureTracker
	breaker *resilience.CircuitBreaker
	sink    StatsSink
	memory  func() uint64
	now     func() time.Time

	stdout io.Writer
	stderr io.Writer
}

// NewLoop validates cfg and builds a loop with a fresh FailureTracker.
func NewLoop(backend queue.Backend, handlers *queue.Handlers, flags *coordination.Flags, log logger.Logger, cfg Config, opts ...Option) (*Loop, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if handlers == nil {
		return nil, errors.New("handlers are required")
	}
	if flags == nil {
		return nil, errors.New("control flags are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if cfg.Tube == "" {
		return nil, fmt.Errorf("%w: tube name is required", ErrUnknownTube)
	}
	if len(cfg.Tubes) > 0 && !slices.Contains(cfg.Tubes, cfg.Tube) {
		return nil, fmt.Errorf("%w: %q is not one of %s", ErrUnknownTube, cfg.Tube, strings.Join(cfg.Tubes, ", "))
	}

	l := &Loop{
		backend:  backend,
		handlers: handlers,
		flags:    flags,
		log:      log,
		config:   cfg,
		tracker:  NewFailureTracker(cfg.FailureThreshold),
		memory:   ProcessMemory,
		now:      time.Now,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	l.breaker = resilience.NewCircuitBreaker(cfg.PopFailureLimit, cfg.PopBackoff,
		resilience.WithStateChange(func(from, to resilience.State) {
			recordBreakerState(cfg.Tube, to)
			l.log.Warn("queue backend breaker changed state", "tube", cfg.Tube, "from", from.String(), "to", to.String())
		}))
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Stats.Enabled && l.sink == nil {
		return nil, errors.New("stats are enabled but no stats sink is configured")
	}
	return l, nil
}

// Tracker exposes the loop's failure counts.
func (l *Loop) Tracker() *FailureTracker { return l.tracker }

// Run consumes the tube until the stop or restart flag is raised or ctx is
// cancelled, then prints "Terminating on request" and returns nil. A job
// already popped is always handled to completion under ctx.
func (l *Loop) Run(ctx context.Context) error {
	ctx = logger.ContextWithTube(ctx, l.config.Tube)
	log := l.log.WithContext(ctx)

	drainCtx, cancel := coordination.DrainContext(ctx, l.flags, l.config.FlagPollInterval, log)
	defer cancel()

	log.Info("Running worker for tube: " + l.config.Tube)

	lastSample := l.now()
	for running := true; running; {
		l.iterate(ctx, log)

		running = drainCtx.Err() == nil
		l.pause(drainCtx)
		lastSample = l.sampleStats(ctx, log, lastSample)
	}

	if coordination.IsDrain(drainCtx) {
		log.Info("drain requested, worker exiting")
	} else {
		log.Info("worker cancelled, exiting")
	}
	fmt.Fprintln(l.stdout, "Terminating on request")
	return nil
}

func (l *Loop) iterate(ctx context.Context, log logger.Logger) {
	var job queue.Job
	err := l.breaker.Execute(func() error {
		var popErr error
		job, popErr = l.backend.Pop(ctx, l.config.Tube)
		return popErr
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitBreakerOpen):
			log.Debug("queue pop skipped while backend is failing", "retry_after", l.breaker.RetryAfter())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			log.Warn("queue pop failed", "error", err)
		}
		return
	}
	if job == nil {
		return
	}

	incrementInflight(l.config.Tube)
	l.process(ctx, log, job)
	decrementInflight(l.config.Tube)
}

func (l *Loop) process(ctx context.Context, log logger.Logger, job queue.Job) {
	traceCtx, span := tracing.StartProcessSpan(ctx, tracing.JobSpan{
		System:      l.config.Backend,
		Tube:        l.config.Tube,
		ID:          job.ID(),
		Name:        job.Name(),
		Attempt:     job.Attempts(),
		PayloadSize: len(job.Payload()),
	})

	log = log.With("job_id", job.ID(), "job_name", job.Name())

	if execErr := l.executeHandler(traceCtx, job); execErr != nil {
		outcome := l.handleFailure(traceCtx, log, job, execErr)
		tracing.Finish(span, outcome, execErr)
		recordJobProcessed(l.config.Tube, outcome)
		return
	}

	l.tracker.Forget(job.ID())
	var deleteErr error
	if !l.config.SkipDelete && !l.backend.AutoDeletes() {
		if deleteErr = job.Delete(traceCtx); deleteErr != nil {
			log.Warn("job delete failed", "error", deleteErr)
		}
	}
	tracing.Finish(span, outcomeSuccess, deleteErr)
	recordJobProcessed(l.config.Tube, outcomeSuccess)
}

func (l *Loop) executeHandler(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling job: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	return resilience.WithTimeout(ctx, l.config.AttemptTimeout, func(runCtx context.Context) error {
		return l.handlers.Dispatch(runCtx, job)
	})
}

func (l *Loop) handleFailure(ctx context.Context, log logger.Logger, job queue.Job, failure error) string {
	id := job.ID()
	count, exhausted := l.tracker.Fail(id)

	log.Error("job failed",
		"category", "queue/"+l.config.Tube,
		"failures", count,
		"error", failure,
	)
	fmt.Fprintf(l.stderr, "Job %s failed: %v\n", id, failure)

	if !exhausted {
		if err := job.Release(ctx); err != nil {
			log.Warn("job release failed", "error", err)
		}
		return outcomeReleased
	}

	l.tracker.Forget(id)

	burier, ok := job.(queue.Burier)
	if !ok {
		fmt.Fprintf(l.stdout, "Job %s released to dead-letter policy\n", id)
		log.Warn("backend cannot bury jobs, releasing to its dead-letter policy")
		if err := job.Release(ctx); err != nil {
			log.Warn("job release failed", "error", err)
		}
		return outcomeDeadLettered
	}
	fmt.Fprintf(l.stdout, "Job %s buried\n", id)
	if err := burier.Bury(ctx); err != nil {
		log.Error("job bury failed", "error", err)
	}
	return outcomeBuried
}

func (l *Loop) pause(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	timer := time.NewTimer(l.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (l *Loop) sampleStats(ctx context.Context, log logger.Logger, last time.Time) time.Time {
	if !l.config.Stats.Enabled || l.sink == nil || ctx.Err() != nil {
		return last
	}
	now := l.now()
	if now.Sub(last) < l.config.Stats.Interval {
		return last
	}
	key := StatsKey(l.config.Stats.KeyPrefix, l.config.Tube)
	if err := l.sink.Append(ctx, key, FormatSample(now, l.memory()), l.config.Stats.MaxEntries); err != nil {
		log.Warn("stats sample failed", "key", key, "error", err)
	}
	return now
}
