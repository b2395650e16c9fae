package logger

import (
	"context"
)

// Logger defines the structured logging contract used by the supervisor, the
// worker loop and the operator commands. Log methods take a message followed
// by key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds the given key-value pairs to
	// every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the tube and worker pid
	// stored in ctx, if any.
	WithContext(ctx context.Context) Logger
}

type contextKey string

const (
	tubeContextKey contextKey = "queuevisor.tube"
	pidContextKey  contextKey = "queuevisor.worker_pid"
)

// ContextWithTube stores the tube name for WithContext.
func ContextWithTube(ctx context.Context, tube string) context.Context {
	return context.WithValue(ctx, tubeContextKey, tube)
}

// ContextWithWorkerPID stores the worker process id for WithContext.
func ContextWithWorkerPID(ctx context.Context, pid int) context.Context {
	return context.WithValue(ctx, pidContextKey, pid)
}

func contextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var fields []any
	if tube, ok := ctx.Value(tubeContextKey).(string); ok && tube != "" {
		fields = append(fields, "tube", tube)
	}
	if pid, ok := ctx.Value(pidContextKey).(int); ok && pid > 0 {
		fields = append(fields, "worker_pid", pid)
	}
	return fields
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (n nopLogger) With(...any) Logger                 { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
