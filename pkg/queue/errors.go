package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid arguments and malformed job payloads.
	ErrValidation = errors.New("queue validation error")
	// ErrNotFound classifies missing jobs or handlers.
	ErrNotFound = errors.New("queue not found")
	// ErrUnsupported classifies operations a backend cannot perform.
	ErrUnsupported = errors.New("queue operation unsupported")
	// ErrClosed classifies operations on a closed backend.
	ErrClosed = errors.New("queue backend closed")
)

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
