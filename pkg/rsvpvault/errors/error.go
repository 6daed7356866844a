package errors

import (
	"fmt"
)

// Error is a rejected operation with its taxonomy kind.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that was rejected (e.g., "register", "withdraw").
	Op string

	// Reason names the invariant that was violated.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s (%s): %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, op, reason string) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Reason: reason,
	}
}

// Newf creates an error of the given kind with a formatted reason.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op, reason string, cause error) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Reason: reason,
		Err:    cause,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, reason string) *Error {
	return New(KindUnauthorized, op, reason)
}

// InvalidState creates an invalid-state error.
func InvalidState(op, reason string) *Error {
	return New(KindInvalidState, op, reason)
}

// InvalidAmount creates an invalid-amount error.
func InvalidAmount(op, reason string) *Error {
	return New(KindInvalidAmount, op, reason)
}

// AlreadyExists creates an already-exists error.
func AlreadyExists(op, reason string) *Error {
	return New(KindAlreadyExists, op, reason)
}

// NotFound creates a not-found error.
func NotFound(op, reason string) *Error {
	return New(KindNotFound, op, reason)
}

// CapacityExceeded creates a capacity-exceeded error.
func CapacityExceeded(op, reason string) *Error {
	return New(KindCapacityExceeded, op, reason)
}

// TooEarly creates a too-early error.
func TooEarly(op, reason string) *Error {
	return New(KindTooEarly, op, reason)
}

// InvalidArgument creates an invalid-argument error.
func InvalidArgument(op, reason string) *Error {
	return New(KindInvalidArgument, op, reason)
}

// Internal wraps an infrastructure failure.
func Internal(op, reason string, cause error) *Error {
	return Wrap(KindInternal, op, reason, cause)
}
