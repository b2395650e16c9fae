// Package coordination holds the shared key-value store used to signal stop
// and restart requests between the manager, its workers and operators.
package coordination

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrWrite classifies failed flag writes; the requesting command must fail.
	ErrWrite = errors.New("coordination write failed")
	// ErrRead classifies failed flag reads.
	ErrRead = errors.New("coordination read failed")
	// ErrClosed classifies operations on a closed store.
	ErrClosed = errors.New("coordination store closed")
)

// Store is the key-value contract the control flags rely on. Implementations
// must be safe for concurrent use by independent processes; atomicity of a
// single Set, Exists or Delete is delegated to the backing service.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

func writeError(key string, err error) error {
	return fmt.Errorf("%w: key %s: %w", ErrWrite, key, err)
}

func readError(key string, err error) error {
	return fmt.Errorf("%w: key %s: %w", ErrRead, key, err)
}
