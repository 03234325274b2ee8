// Package apierr defines the error taxonomy shared by the configuration engine
// and the request executor.
//
// Configuration and validation errors are programming or setup mistakes and
// are always returned to the caller. Transport and response-processing errors
// are normally folded into a failed response and only surface as errors when a
// consumer opts into ThrowExceptions.
package apierr

import (
	"errors"
	"fmt"
)

// Kind defines the category of an API consumer error
type Kind string

const (
	Configuration      Kind = "configuration"
	Validation         Kind = "validation"
	TransportTimeout   Kind = "transport_timeout"
	Transport          Kind = "transport"
	ResponseProcessing Kind = "response_processing"
)

// Error is the concrete error carried through the library.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "container.resolve"
	Field   string // offending field or type name, optional
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field: %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind via a template error, e.g.
// errors.Is(err, &apierr.Error{Kind: apierr.Validation}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && (t.Field == "" || t.Field == e.Field)
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(op, field, message string, wrapped error) *Error {
	return &Error{Kind: Configuration, Op: op, Field: field, Message: message, Err: wrapped}
}

// NewValidationError creates a validation error.
func NewValidationError(op, field, message string) *Error {
	return &Error{Kind: Validation, Op: op, Field: field, Message: message}
}

// NewTimeoutError wraps the cause of an exhausted timeout.
func NewTimeoutError(op, message string, cause error) *Error {
	return &Error{Kind: TransportTimeout, Op: op, Message: message, Err: cause}
}

// NewTransportError wraps a non-timeout transport failure.
func NewTransportError(op, message string, cause error) *Error {
	return &Error{Kind: Transport, Op: op, Message: message, Err: cause}
}

// NewProcessingError wraps a response mapping failure.
func NewProcessingError(op, message string, cause error) *Error {
	return &Error{Kind: ResponseProcessing, Op: op, Message: message, Err: cause}
}

// IsKind checks if an error, or anything it wraps, is of the given kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
