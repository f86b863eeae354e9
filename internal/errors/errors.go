// Package errors provides standardized domain errors with codes for the treewatch API.
//
// Usage:
//
//	// In the root engine - return typed errors
//	if !info.IsDir() {
//	    return errors.WatchFailuref("%s is not a directory", path)
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrUnknownRoot) {
//	    ...
//	}
//
//	// Or use the Code directly for switch statements
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeTimeout:
//	        ...
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeWatchFailure Code = "WATCH_FAILURE"
	CodeUnknownRoot  Code = "UNKNOWN_ROOT"
	CodeRootFailed   Code = "ROOT_FAILED"
	CodeValidation   Code = "VALIDATION"
	CodeTimeout      Code = "TIMEOUT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeWatchFailure, CodeValidation:
		return http.StatusBadRequest
	case CodeUnknownRoot:
		return http.StatusNotFound
	case CodeRootFailed:
		return http.StatusGone
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrWatchFailure = &Error{Code: CodeWatchFailure, Message: "cannot watch path"}
	ErrUnknownRoot  = &Error{Code: CodeUnknownRoot, Message: "root is not watched"}
	ErrRootFailed   = &Error{Code: CodeRootFailed, Message: "root has failed"}
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation error"}
	ErrTimeout      = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrRateLimited  = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// WatchFailure creates an error for a root that cannot be established.
func WatchFailure(msg string) *Error {
	return &Error{Code: CodeWatchFailure, Message: msg}
}

// WatchFailuref creates a watch failure error with formatted message.
func WatchFailuref(format string, args ...any) *Error {
	return &Error{Code: CodeWatchFailure, Message: fmt.Sprintf(format, args...)}
}

// UnknownRoot creates an unknown root error naming the path.
func UnknownRoot(path string) *Error {
	return &Error{Code: CodeUnknownRoot, Message: fmt.Sprintf("unable to resolve root %s: directory is not watched", path)}
}

// RootFailed creates a root failed error.
func RootFailed(msg string) *Error {
	return &Error{Code: CodeRootFailed, Message: msg}
}

// RootFailedf creates a root failed error with formatted message.
func RootFailedf(format string, args ...any) *Error {
	return &Error{Code: CodeRootFailed, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Timeout creates a timeout error.
func Timeout(msg string) *Error {
	return &Error{Code: CodeTimeout, Message: msg}
}

// Timeoutf creates a timeout error with formatted message.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Code: CodeTimeout, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
