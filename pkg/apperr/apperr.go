// Package apperr defines the domain error kinds shared across services.
// Handlers map kinds to HTTP status codes at the boundary; everything
// below the boundary deals in kinds, not status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a domain error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error carries an error kind plus a client-safe message. The wrapped
// cause is for logs only and never reaches the response body.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with the given kind and client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and client-safe message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation flags malformed or out-of-range input.
func Validation(message string) *Error { return New(KindValidation, message) }

// Unauthorized flags a missing or invalid credential. Keep the message
// generic; it must not disclose which factor failed.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// Forbidden flags an authenticated caller acting outside its tenancy.
func Forbidden(message string) *Error { return New(KindForbidden, message) }

// NotFound flags an absent resource. Cross-tenant reads also surface as
// not found so callers cannot probe for existence.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict flags a uniqueness violation such as a duplicate email.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Unavailable flags a degraded dependency.
func Unavailable(message string) *Error { return New(KindUnavailable, message) }

// KindOf extracts the kind from an error chain. Unclassified errors
// are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the message safe to put in a response body.
// Internal errors are redacted.
func ClientMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal server error"
}
