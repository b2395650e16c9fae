package queue

import (
	"context"
	"sync"
)

// reservedJob is the Job handed out by every backend. Backends plug their
// settle operations in as closures. Once deleted the job ignores further
// Delete and Release calls.
type reservedJob struct {
	env Envelope

	deleteFn  func(context.Context) error
	releaseFn func(context.Context) error

	mu      sync.Mutex
	deleted bool
}

func (j *reservedJob) ID() string      { return j.env.ID }
func (j *reservedJob) Tube() string    { return j.env.Tube }
func (j *reservedJob) Name() string    { return j.env.Name }
func (j *reservedJob) Payload() []byte { return j.env.Payload }
func (j *reservedJob) Attempts() int   { return j.env.Attempts }

func (j *reservedJob) Delete(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.deleted {
		return nil
	}
	if j.deleteFn != nil {
		if err := j.deleteFn(ctx); err != nil {
			return err
		}
	}
	j.deleted = true
	return nil
}

func (j *reservedJob) Release(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.deleted || j.releaseFn == nil {
		return nil
	}
	return j.releaseFn(ctx)
}

// buriableJob adds Bury for backends with a buried area.
type buriableJob struct {
	*reservedJob
	buryFn func(context.Context) error
}

func (j *buriableJob) Bury(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.deleted {
		return nil
	}
	if err := j.buryFn(ctx); err != nil {
		return err
	}
	j.deleted = true
	return nil
}

var (
	_ Job    = (*reservedJob)(nil)
	_ Burier = (*buriableJob)(nil)
)
