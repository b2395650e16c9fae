// Package health aggregates the checks served on /healthz: the coordination
// store, the queue backend and the state of the control flags.
package health

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of one check or of the whole registry.
type Status string

const (
	StatusHealthy Status = "healthy"
	// StatusDegraded means the process is up but not consuming, e.g. the
	// queue has been stopped.
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker is one dependency check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// AggregatedResult is the worst status over all checks plus each result.
type AggregatedResult struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// IsHealthy is false only when some check is unhealthy. A degraded registry
// still counts as serving.
func (r AggregatedResult) IsHealthy() bool {
	return r.Status != StatusUnhealthy
}

// Registry runs a set of checkers concurrently.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds checker, replacing one with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

func (r *Registry) snapshot() []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	return checkers
}

// Check runs every checker and reports the worst status among them.
// Results are ordered by name.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	checkers := r.snapshot()
	start := time.Now()

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			results[i] = checker.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	status := StatusHealthy
	for _, result := range results {
		if result.Status.rank() > status.rank() {
			status = result.Status
		}
	}
	return AggregatedResult{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs the checker registered under name.
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}
	return checker.Check(ctx), nil
}

// List returns the registered names in order.
func (r *Registry) List() []string {
	names := make([]string, 0)
	for _, checker := range r.snapshot() {
		names = append(names, checker.Name())
	}
	slices.Sort(names)
	return names
}
