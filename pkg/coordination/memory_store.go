package coordination

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It only coordinates goroutines of one
// process and is meant for tests and single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool

	// FailWrites makes Set and Delete fail, simulating an unavailable store.
	FailWrites error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return writeError(key, ErrClosed)
	}
	if s.FailWrites != nil {
		return writeError(key, s.FailWrites)
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, readError(key, ErrClosed)
	}
	_, ok := s.values[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return writeError(key, ErrClosed)
	}
	if s.FailWrites != nil {
		return writeError(key, s.FailWrites)
	}
	delete(s.values, key)
	return nil
}

// Get returns the stored value, used by tests to inspect flag timestamps.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
