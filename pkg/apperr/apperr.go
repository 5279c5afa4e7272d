package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies the class of an error condition
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL"
)

// HTTPStatus returns the status code for this condition
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed condition. Message is safe to show to callers; the cause
// is only for logs.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeForbidden}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithCause returns a copy of e carrying cause for logging.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New creates a condition with the given code and public message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a condition with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "access denied"
	}
	return New(CodeForbidden, message)
}

func BadRequest(message string) *Error {
	return New(CodeBadRequest, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// RateLimited reports that the caller must wait retryAfter before retrying
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "too many requests, please try again later",
		RetryAfter: retryAfter,
	}
}

// Internal hides cause behind a generic message
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", cause: cause}
}

// As extracts the *Error from err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the condition code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to an HTTP status code
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return CodeOf(err).HTTPStatus()
}

// Public returns a condition safe to serialize. Untyped errors become a
// generic internal error.
func Public(err error) *Error {
	if e, ok := As(err); ok {
		return &Error{Code: e.Code, Message: e.Message, RetryAfter: e.RetryAfter}
	}
	return &Error{Code: CodeInternal, Message: "internal server error"}
}
