// Command queuevisor supervises one worker process per queue tube.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nimburion/queuevisor/pkg/cli"
	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/queue"
)

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:              "queuevisor",
		Description:       "Queue worker supervisor",
		ConfigPath:        os.Getenv("QUEUEVISOR_CONFIG_FILE"),
		ConfigureHandlers: registerBuiltinHandlers,
	}))
}

// registerBuiltinHandlers installs the handlers shipped with the binary,
// used to smoke-test a deployment end to end.
func registerBuiltinHandlers(_ *config.Config, log logger.Logger, handlers *queue.Handlers) error {
	if err := handlers.Register("noop", func(context.Context, queue.Job) error { return nil }); err != nil {
		return err
	}
	if err := handlers.Register("echo", func(_ context.Context, job queue.Job) error {
		fmt.Fprintf(os.Stdout, "%s: %s\n", job.ID(), job.Payload())
		return nil
	}); err != nil {
		return err
	}
	// sleep holds the worker for the duration in the payload, e.g. "250ms".
	return handlers.Register("sleep", func(ctx context.Context, job queue.Job) error {
		d, err := time.ParseDuration(string(job.Payload()))
		if err != nil {
			return fmt.Errorf("sleep payload: %w", err)
		}
		log.Debug("sleeping", "job_id", job.ID(), "duration", d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	})
}
