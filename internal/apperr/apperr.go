// Package apperr defines the error kinds surfaced by the engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an engine error.
type Kind string

const (
	// KindNotFound indicates an unknown mixer, recipe, batch, product or alarm.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict indicates the operation contradicts current state.
	KindConflict Kind = "CONFLICT"

	// KindValidation indicates malformed input.
	KindValidation Kind = "VALIDATION"

	// KindUnavailable indicates a persistence failure.
	KindUnavailable Kind = "UNAVAILABLE"

	// KindForbidden indicates a missing or insufficient role claim.
	KindForbidden Kind = "FORBIDDEN"
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, format, args...)
}

// Conflict creates a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return newError(KindConflict, op, format, args...)
}

// Validation creates a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return newError(KindValidation, op, format, args...)
}

// Forbidden creates a KindForbidden error.
func Forbidden(op, format string, args ...any) *Error {
	return newError(KindForbidden, op, format, args...)
}

// Unavailable wraps a persistence failure. Engine errors pass through unchanged.
func Unavailable(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindUnavailable, Op: op, Message: "persistence failure", Err: err}
}

// KindOf returns the kind of err. Foreign errors are Unavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict reports whether err is a KindConflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsUnavailable reports whether err is a KindUnavailable error.
func IsUnavailable(err error) bool { return is(err, KindUnavailable) }

// IsForbidden reports whether err is a KindForbidden error.
func IsForbidden(err error) bool { return is(err, KindForbidden) }

func is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
