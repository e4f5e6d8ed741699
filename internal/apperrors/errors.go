// Package apperrors provides the tagged error taxonomy used throughout the
// control plane, replacing the source's exception-driven abort(code, {...})
// control flow (see spec.md §7 and §9) with structured errors plus a single
// mapping layer at the HTTP boundary.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and log-level selection.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindPrecondition  Kind = "precondition"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Sentinel errors worth comparing with errors.Is in calling code.
var (
	ErrNoAvailableRobot     = errors.New("no available robot")
	ErrRobotNavigating      = errors.New("robot is navigating now")
	ErrNoRemainingWaypoints = errors.New("no remaining waypoints")
)

// Error is a structured error carrying a Kind, a human-readable message,
// an optional root cause (e.g. the upstream response body), and arbitrary
// context fields rendered alongside "message" in the HTTP error body.
type Error struct {
	Kind      Kind
	Message   string
	RootCause string
	Fields    map[string]interface{}
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func new(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Fields:  map[string]interface{}{},
	}
}

// Validation builds a 400-class error for malformed input.
func Validation(format string, args ...interface{}) *Error {
	return new(KindValidation, nil, format, args...)
}

// Precondition builds a 412/422-class error (no remaining legs, no robot available).
func Precondition(err error, format string, args ...interface{}) *Error {
	return new(KindPrecondition, err, format, args...)
}

// Conflict builds a 423-class error (robot currently navigating).
func Conflict(err error, format string, args ...interface{}) *Error {
	return new(KindConflict, err, format, args...)
}

// NotFound builds a 404-class error, propagated from the upstream store.
func NotFound(format string, args ...interface{}) *Error {
	return new(KindNotFound, nil, format, args...)
}

// Internal builds a 500-class error (transport failures, command protocol failures).
func Internal(format string, args ...interface{}) *Error {
	return new(KindInternal, nil, format, args...)
}

// InternalWrap wraps an underlying error as a 500-class error.
func InternalWrap(err error, format string, args ...interface{}) *Error {
	return new(KindInternal, err, format, args...)
}

// WithField attaches a context field, returned for chaining, e.g.:
//
//	apperrors.Precondition(nil, "no remaining waypoints for robot(%s)", id).WithField("id", id)
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = map[string]interface{}{}
	}
	e.Fields[key] = value
	return e
}

// WithRootCause attaches the upstream body/cause for a Transport/Internal error.
func (e *Error) WithRootCause(rootCause string) *Error {
	e.RootCause = rootCause
	return e
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
