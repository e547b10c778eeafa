// Package apperr provides the error taxonomy shared by the command client, the backend
// adapters and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrNotCancellable = errors.New("not cancellable")
	ErrRateLimited    = errors.New("rate limited")
	ErrUpstream       = errors.New("upstream service error")
	ErrDatabase       = errors.New("database error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "key_ids")
	Resource string // For not found/conflict (e.g., "job")
	Op       string // Operation that failed (e.g., "backend.createJob")
	Status   int    // Backend HTTP status, when one was received
	Cause    error  // Underlying error, kept for diagnostics
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// NotCancellable reports a cancel request against a job that already finished.
func NotCancellable(jobID, status string) error {
	return &Error{
		Sentinel: ErrNotCancellable,
		Message:  fmt.Sprintf("job %s is %s and can no longer be cancelled", jobID, status),
		Resource: "job",
	}
}

// RateLimited reports a 429 from the backend.
func RateLimited(op, message string) error {
	if message == "" {
		message = "too many requests"
	}
	return &Error{
		Sentinel: ErrRateLimited,
		Message:  message,
		Op:       op,
		Status:   429,
	}
}

// Upstream wraps a failure of the translation service or its LLM provider.
func Upstream(op string, status int, cause error) error {
	return &Error{
		Sentinel: ErrUpstream,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Status:   status,
		Cause:    cause,
	}
}

// Database wraps any other backend failure, keeping the cause.
func Database(op string, cause error) error {
	return &Error{
		Sentinel: ErrDatabase,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Is reports whether err belongs to one of the taxonomy sentinels.
func Is(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// FieldOf returns the offending field of a validation error.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
