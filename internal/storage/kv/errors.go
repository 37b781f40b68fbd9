package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested key was not found
	ErrNotFound = errors.New("key not found")

	// ErrClosed indicates that the backend is closed
	ErrClosed = errors.New("backend is closed")

	// ErrUnsupportedBackend indicates that a backend name is not known
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// BackendError wraps an error with backend context.
type BackendError struct {
	Backend   string // The backend name
	Operation string // The operation that failed
	Cause     error  // The underlying error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("kv %s error on backend %s: %v", e.Operation, e.Backend, e.Cause)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// wrapErr wraps an error with backend context, passing nil through.
func wrapErr(err error, backend, operation string) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Operation: operation, Cause: err}
}

// IsNotFound checks if an error indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
