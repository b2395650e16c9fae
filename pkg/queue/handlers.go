package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Handler processes one job. A nil error means the job succeeded.
type Handler func(ctx context.Context, job Job) error

// Handlers maps job names to their handlers.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers returns an empty registry.
func NewHandlers() *Handlers {
	return &Handlers{handlers: map[string]Handler{}}
}

// Register binds handler to name, replacing a previous binding.
func (h *Handlers) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return queueError(ErrValidation, "handler name is required")
	}
	if handler == nil {
		return queueError(ErrValidation, "handler is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = handler
	return nil
}

// Lookup returns the handler bound to name.
func (h *Handlers) Lookup(name string) (Handler, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[strings.TrimSpace(name)]
	return handler, ok
}

// Names lists registered job names in sorted order.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for job.Name(). A job without a
// handler fails with ErrNotFound.
func (h *Handlers) Dispatch(ctx context.Context, job Job) error {
	handler, ok := h.Lookup(job.Name())
	if !ok {
		return queueError(ErrNotFound, "no handler registered for job "+job.Name())
	}
	return handler(ctx, job)
}
