// Package errors provides the failure taxonomy shared by every rsvpvault component.
//
// Every rejected operation returns an *Error carrying a Kind (what class of rule
// was broken), the operation name, and the specific invariant that was violated.
// Callers branch on the kind with errors.Is against the sentinel values or with
// KindOf:
//
//	if errors.Is(err, rverrors.ErrCapacityExceeded) {
//	    // event is full
//	}
package errors

import (
	"errors"
)

// Kind classifies why an operation was rejected.
type Kind int

const (
	// KindInternal indicates an infrastructure failure (persistence, value rail).
	// It is the zero value so unclassified errors never masquerade as rule violations.
	KindInternal Kind = iota

	// KindUnauthorized indicates the caller lacks the required role.
	KindUnauthorized

	// KindInvalidState indicates the operation is not valid in the current lifecycle state.
	KindInvalidState

	// KindInvalidAmount indicates a payment that does not exactly match the deposit,
	// or an amount that would overflow.
	KindInvalidAmount

	// KindAlreadyExists indicates a duplicate (registration, attendance mark, handle).
	KindAlreadyExists

	// KindNotFound indicates an unknown identity or instance.
	KindNotFound

	// KindCapacityExceeded indicates the participant limit has been reached.
	KindCapacityExceeded

	// KindTooEarly indicates the cooling period has not elapsed.
	KindTooEarly

	// KindInvalidArgument indicates malformed input (zero address, oversized metadata).
	KindInvalidArgument
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidAmount:
		return "invalid_amount"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindTooEarly:
		return "too_early"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is. They match any *Error of the same kind.
var (
	ErrInternal         = &Error{Kind: KindInternal}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrInvalidAmount    = &Error{Kind: KindInvalidAmount}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrTooEarly         = &Error{Kind: KindTooEarly}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
)

// KindOf returns the kind of the first *Error in err's chain.
// Errors outside the taxonomy are reported as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal // shouldn't happen, fail safe
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRuleViolation reports whether err was caused by the caller breaking a
// lifecycle or authorization rule rather than by infrastructure.
func IsRuleViolation(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindInternal
}
