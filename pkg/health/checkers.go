package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Checkable is implemented by coordination stores and queue backends.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker checks a Checkable with a timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps adapter. A zero timeout means five seconds.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: StatusHealthy}
	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

func (c *AdapterChecker) Name() string { return c.name }

// NewStoreChecker checks the coordination store holding the control flags.
func NewStoreChecker(store Checkable) *AdapterChecker {
	return NewAdapterChecker("coordination", store, 3*time.Second)
}

// NewBackendChecker checks the queue backend.
func NewBackendChecker(backend Checkable) *AdapterChecker {
	return NewAdapterChecker("queue", backend, 5*time.Second)
}

// FlagReader reports the control flags. *coordination.Flags implements it.
type FlagReader interface {
	IsStopped(ctx context.Context) (bool, error)
	ShouldRestart(ctx context.Context) (bool, error)
}

type flagsChecker struct {
	flags   FlagReader
	timeout time.Duration
}

// NewFlagsChecker reports degraded while the queue is stopped or a restart
// is pending, and unhealthy when the flags cannot be read.
func NewFlagsChecker(flags FlagReader) Checker {
	return &flagsChecker{flags: flags, timeout: 3 * time.Second}
}

func (c *flagsChecker) Name() string { return "control" }

func (c *flagsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.Name(), Status: StatusHealthy}
	stopped, err := c.flags.IsStopped(checkCtx)
	var restart bool
	if err == nil {
		restart, err = c.flags.ShouldRestart(checkCtx)
	}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case stopped:
		result.Status = StatusDegraded
		result.Message = "queue is stopped"
	case restart:
		result.Status = StatusDegraded
		result.Message = "restart pending"
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

// Handler serves the aggregated result as JSON, with status 503 when a
// check is unhealthy. Degraded results are served with 200.
func Handler(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := registry.Check(r.Context())
		status := http.StatusOK
		if !result.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	})
}
