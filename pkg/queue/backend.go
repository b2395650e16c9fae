// Package queue defines the job queue contract consumed by workers and the
// backends that implement it on Redis, SQS, RabbitMQ, SQL databases and in
// memory.
package queue

import (
	"context"
	"time"
)

// Job is one unit of work handed out by Pop. A popped job is reserved for
// the caller until it is deleted, released or buried.
type Job interface {
	ID() string
	Tube() string
	Name() string
	Payload() []byte
	// Attempts counts how many times the job has been reserved, this one included.
	Attempts() int
	// Delete removes the job for good. Deleting twice is a no-op.
	Delete(ctx context.Context) error
	// Release puts the job back on its tube for another attempt.
	Release(ctx context.Context) error
}

// Burier is implemented by jobs whose backend can park them outside the
// tube for later inspection.
type Burier interface {
	Bury(ctx context.Context) error
}

// Backend is a named-tube job queue.
type Backend interface {
	Push(ctx context.Context, tube, name string, payload []byte) (string, error)
	PushDelayed(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error)
	// Size returns the number of jobs pending on tube.
	Size(ctx context.Context, tube string) (int64, error)
	// Pop reserves the next available job, or returns nil, nil when the tube is empty.
	Pop(ctx context.Context, tube string) (Job, error)
	// AutoDeletes reports whether jobs are gone as soon as they are popped,
	// in which case workers must not delete them after handling.
	AutoDeletes() bool
	HealthCheck(ctx context.Context) error
	Close() error
}
