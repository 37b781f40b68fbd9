// Package fault defines the closed set of error kinds used across the
// control plane and the typed error that carries them. Recoverable kinds are
// handled locally with retries; the rest surface to the caller with a
// correlation ID for audit.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed; components map every error
// they return onto exactly one kind.
type Kind int

const (
	// KindValidation means malformed input. No state was mutated.
	KindValidation Kind = iota

	// KindAuthorizationDenied means a membership or balance requirement
	// was not met.
	KindAuthorizationDenied

	// KindNotFound means a referenced ID is absent.
	KindNotFound

	// KindConflict means a duplicate or an invalid state transition,
	// including a broken hash chain detected on append.
	KindConflict

	// KindTimeout means an external capability exceeded its deadline.
	KindTimeout

	// KindIntegrityViolation means a hash chain break, a vector clock
	// regression or a mid-pipeline hash mismatch. Fatal for the execution.
	KindIntegrityViolation

	// KindExhausted means retries or recovery attempts ran out.
	KindExhausted

	// KindInternal means an unexpected failure. Never swallowed silently.
	KindInternal
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindIntegrityViolation:
		return "integrity_violation"
	case KindExhausted:
		return "exhausted"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the typed failure carried across component boundaries.
type Error struct {
	Kind          Kind   // Failure classification
	Op            string // The operation that failed, e.g. "ledger.append"
	CorrelationID string // ID linking the failure to its audit trail
	Message       string // Human-readable message
	Cause         error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a typed error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a typed error wrapping a cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// WithCorrelation attaches a correlation ID and returns the error.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
