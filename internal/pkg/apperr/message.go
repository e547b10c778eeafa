package apperr

import (
	"errors"
	"net/http"
)

const genericMessage = "Something went wrong. Please try again."

// UserMessage returns text that is safe to show to the user.
// Unknown and database errors never leak their cause.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	switch {
	case errors.Is(err, ErrValidation):
		if errors.As(err, &e) {
			return e.Message
		}
		return "Invalid request"
	case errors.Is(err, ErrConflict):
		if errors.As(err, &e) && e.Message != "" {
			return e.Message
		}
		return "An active translation job already exists for this project"
	case errors.Is(err, ErrNotCancellable):
		return "This job has already finished and can no longer be cancelled"
	case errors.Is(err, ErrNotFound):
		return "The job or project could not be found"
	case errors.Is(err, ErrRateLimited):
		return "Too many requests. Please retry later."
	case errors.Is(err, ErrUpstream):
		return "The translation service is unavailable. Please try again later."
	default:
		return genericMessage
	}
}

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotCancellable):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus classifies a backend HTTP failure.
func FromStatus(op string, status int, message string, cause error) error {
	if cause == nil {
		cause = errors.New(message)
	}
	switch {
	case status == http.StatusBadRequest:
		return &Error{Sentinel: ErrValidation, Message: message, Op: op, Status: status, Cause: cause}
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		return &Error{Sentinel: ErrNotFound, Message: message, Op: op, Status: status, Cause: cause}
	case status == http.StatusConflict:
		return &Error{Sentinel: ErrConflict, Message: message, Op: op, Status: status, Cause: cause}
	case status == http.StatusTooManyRequests:
		return RateLimited(op, message)
	case status >= 500:
		return Upstream(op, status, cause)
	default:
		e := Database(op, cause).(*Error)
		e.Status = status
		return e
	}
}
