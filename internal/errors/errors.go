package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an atelier error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrPromptTooLong  ErrorCode = "PROMPT_TOO_LONG" // 413
	ErrUpstream       ErrorCode = "UPSTREAM_FAILED" // 502
	ErrInstallFailed  ErrorCode = "INSTALL_FAILED"  // 503
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// AtelierError represents a structured error with code, status, and details.
type AtelierError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *AtelierError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AtelierError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *AtelierError {
	return &AtelierError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing gallery position or resource.
func NewNotFound(identifier string) *AtelierError {
	return &AtelierError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewPromptTooLong creates a 413 error when a prompt exceeds the character limit.
func NewPromptTooLong(max, actual int) *AtelierError {
	return &AtelierError{
		Code:    ErrPromptTooLong,
		Status:  413,
		Message: fmt.Sprintf("prompt exceeds maximum length: %d chars (max %d)", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewUpstream creates a 502 error for a failed call to a remote service.
func NewUpstream(service string, err error) *AtelierError {
	msg := service + " request failed"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &AtelierError{
		Code:    ErrUpstream,
		Status:  502,
		Message: msg,
		Details: map[string]any{"service": service},
		cause:   err,
	}
}

// NewInstallFailed creates a 503 error when a cache generation could not be installed.
func NewInstallFailed(version string, err error) *AtelierError {
	msg := fmt.Sprintf("cache %s install failed", version)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &AtelierError{
		Code:    ErrInstallFailed,
		Status:  503,
		Message: msg,
		Details: map[string]any{"version": version},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AtelierError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AtelierError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) an AtelierError with the given code.
func Is(err error, code ErrorCode) bool {
	var aErr *AtelierError
	if stderrors.As(err, &aErr) {
		return aErr.Code == code
	}
	return false
}

// As extracts an AtelierError from err, wrapping anything else as INTERNAL.
func As(err error) *AtelierError {
	var aErr *AtelierError
	if stderrors.As(err, &aErr) {
		return aErr
	}
	return NewInternal(err)
}
