package apierrors

import (
	"errors"
	"fmt"
)

// Error is a failure that already knows its taxonomy kind
type Error struct {
	Kind Kind
	// Status overrides the kind's canonical status when non-zero
	Status int
	// Reason is logged server-side and never sent to clients
	Reason string
	// Detail is sent to clients for validation errors only
	Detail            string
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status the error is rendered with
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// New creates an error of the given kind
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf creates an error of the given kind with a formatted reason
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Validation creates a validation error whose detail is shown to the client
func Validation(detail string) *Error {
	return &Error{Kind: KindValidation, Detail: detail}
}

// Authentication creates an authentication error
func Authentication(reason string) *Error {
	return New(KindAuthentication, reason)
}

// Authorization creates an authorization error
func Authorization(reason string) *Error {
	return New(KindAuthorization, reason)
}

// NotFound creates a not-found error
func NotFound(reason string) *Error {
	return New(KindNotFound, reason)
}

// RateLimited creates a rate limit error with a retry hint
func RateLimited(reason string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimit, Reason: reason, RetryAfterSeconds: retryAfterSeconds}
}

// Unavailable creates a service unavailable error with a retry hint
func Unavailable(reason string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindServiceUnavailable, Reason: reason, RetryAfterSeconds: retryAfterSeconds}
}

// KindOf returns the kind of err when it carries one
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// StatusError is a downstream response that completed with a failing status
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("downstream status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("downstream status %d", e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ExternalError marks a failure of a third-party service
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}
