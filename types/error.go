package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across inkflow.
type ErrorCode string

// Domain error codes
const (
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrValidation      ErrorCode = "VALIDATION_FAILED"
	ErrTransientInfra  ErrorCode = "TRANSIENT_INFRA"
	ErrPipelineFailure ErrorCode = "PIPELINE_FAILURE"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Upstream error codes
const (
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrRateLimited   ErrorCode = "RATE_LIMITED"
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
	ErrCanceled      ErrorCode = "CANCELED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewNotFoundError 实体不存在，不可重试。
func NewNotFoundError(entity, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %s not found", entity, id)).
		WithHTTPStatus(http.StatusNotFound)
}

// NewValidationError 请求格式错误，不可重试。
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewTransientError 存储/搜索/生成服务暂不可用，可重试。
func NewTransientError(message string, cause error) *Error {
	return NewError(ErrTransientInfra, message).
		WithCause(cause).
		WithRetryable(true).
		WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewPipelineError 阶段在允许的修正轮次内未能产出合法的结构化结果。
func NewPipelineError(stage, message string) *Error {
	return NewError(ErrPipelineFailure, fmt.Sprintf("stage %s: %s", stage, message)).
		WithHTTPStatus(http.StatusInternalServerError)
}

// NewInternalError creates a non-retryable internal error.
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsNotFound is shorthand for IsErrorCode(err, ErrNotFound).
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrNotFound)
}

// IsRetryable classifies a failure for the retry policy.
// Typed errors use their own flag; deadline overruns are retryable,
// cancellation is not, and unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	return ""
}

// WrapError wraps an arbitrary error with a code, preserving existing typed errors.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}
