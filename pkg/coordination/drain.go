package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

// ErrDrainRequested is the cancellation cause of a drain context whose flags
// asked for a stop or a restart.
var ErrDrainRequested = errors.New("drain requested")

const DefaultFlagPollInterval = 10 * time.Millisecond

// DrainContext returns a context cancelled with cause ErrDrainRequested as
// soon as a poll of flags observes stop or restart. The parent's own
// cancellation propagates as usual. Read errors are logged and polling goes
// on; a store outage does not drain the workers.
//
// The flags are checked once before DrainContext returns, so a context built
// while a flag is already raised is cancelled immediately.
func DrainContext(parent context.Context, flags *Flags, interval time.Duration, log logger.Logger) (context.Context, context.CancelFunc) {
	if interval <= 0 {
		interval = DefaultFlagPollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancelCause(parent)

	check := func() bool {
		draining, err := flags.Draining(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("control flag poll failed", "error", err)
			}
			return false
		}
		if draining {
			cancel(ErrDrainRequested)
			return true
		}
		return false
	}

	if check() {
		return ctx, func() { cancel(context.Canceled) }
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if check() {
					return
				}
			}
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}

// IsDrain reports whether ctx was cancelled because a drain was requested.
func IsDrain(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrDrainRequested)
}
