package queue

import (
	"context"
	"time"
)

// SyncBackend runs jobs inline on Push. Nothing is ever queued, so Pop
// always reports an empty tube and jobs are deleted as soon as they exist.
type SyncBackend struct {
	handlers *Handlers
}

// NewSyncBackend dispatches pushed jobs through handlers.
func NewSyncBackend(handlers *Handlers) *SyncBackend {
	if handlers == nil {
		handlers = NewHandlers()
	}
	return &SyncBackend{handlers: handlers}
}

// Push runs the job's handler before returning. The handler error, if any,
// is returned alongside the job id.
func (b *SyncBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	env.Attempts = 1
	recordJobPushed("sync", env.Tube)
	return env.ID, b.handlers.Dispatch(ctx, &reservedJob{env: env})
}

// PushDelayed ignores the delay.
func (b *SyncBackend) PushDelayed(ctx context.Context, _ time.Duration, tube, name string, payload []byte) (string, error) {
	return b.Push(ctx, tube, name, payload)
}

func (b *SyncBackend) Size(context.Context, string) (int64, error) { return 0, nil }

func (b *SyncBackend) Pop(context.Context, string) (Job, error) { return nil, nil }

func (b *SyncBackend) AutoDeletes() bool { return true }

func (b *SyncBackend) HealthCheck(context.Context) error { return nil }

func (b *SyncBackend) Close() error { return nil }
