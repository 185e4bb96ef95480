package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the engine and its surfaces.
type ErrorCode string

// Workflow error codes
const (
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrAccessDenied        ErrorCode = "ACCESS_DENIED"
	ErrAlreadyRunning      ErrorCode = "ALREADY_RUNNING"
	ErrAgentExecution      ErrorCode = "AGENT_EXECUTION_ERROR"
	ErrConditionEvaluation ErrorCode = "CONDITION_EVALUATION_ERROR"
)

// Transport error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
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

// NewValidationError reports malformed workflow input such as an empty node list.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError reports an unknown workflow, node, or agent reference.
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}

// NewAccessDeniedError reports an owner mismatch.
func NewAccessDeniedError(message string) *Error {
	return NewError(ErrAccessDenied, message).WithHTTPStatus(http.StatusForbidden)
}

// NewAlreadyRunningError reports a re-entrant execution of the same workflow id.
func NewAlreadyRunningError(workflowID string) *Error {
	return NewError(ErrAlreadyRunning, fmt.Sprintf("workflow %s is already running", workflowID)).
		WithHTTPStatus(http.StatusConflict).
		WithRetryable(true)
}

// NewAgentExecutionError wraps the raw message of a failed runner invocation.
func NewAgentExecutionError(message string) *Error {
	return NewError(ErrAgentExecution, message).WithHTTPStatus(http.StatusBadGateway)
}

// NewInternalError wraps an unanticipated failure.
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

// IsErrorCode reports whether any error in the chain carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
