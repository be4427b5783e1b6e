// Package errors provides the single typed error shape used across the
// core: every error that crosses a package boundary is an *AppError.
package errors

import (
	"fmt"
	"net/http"
)

// Type is a closed enumeration of the error classes the core raises.
type Type string

const (
	TypeValidation  Type = "validation"
	TypeNotFound    Type = "not_found"
	TypeConflict    Type = "conflict"
	TypeAuthz       Type = "authorization"
	TypeDatabase    Type = "database"
	TypeExternal    Type = "external"
	TypeInternal    Type = "internal"
)

// AppError is the core's single error type. Callers that need to branch on
// error class should use errors.As / a type switch against *AppError and
// inspect Type, never string-match Error().
type AppError struct {
	Type       Type
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func statusFor(t Type) int {
	switch t {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeAuthz:
		return http.StatusForbidden
	case TypeDatabase, TypeExternal, TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with no underlying cause.
func New(t Type, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t)}
}

// Newf creates an AppError with a formatted message.
func Newf(t Type, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError carrying cause as its Unwrap target.
func Wrap(cause error, t Type, message string) *AppError {
	e := New(t, message)
	e.Cause = cause
	return e
}

// Wrapf creates a wrapped AppError with a formatted message.
func Wrapf(cause error, t Type, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches extra detail text, mutating and returning the
// receiver so call sites can chain it: `return errors.New(...).WithDetails(...)`.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted detail text.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Convenience constructors for the classes exercised most often by the
// orchestrator and state machines.

func NotFound(entity string, id interface{}) *AppError {
	return Newf(TypeNotFound, "%s %v not found", entity, id)
}

func Conflict(message string) *AppError {
	return New(TypeConflict, message)
}

func Conflictf(format string, args ...interface{}) *AppError {
	return Newf(TypeConflict, format, args...)
}

func Validation(message string) *AppError {
	return New(TypeValidation, message)
}

func Authz(message string) *AppError {
	return New(TypeAuthz, message)
}
