package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the core.
type ErrorCode string

// Retrieval error codes
const (
	ErrGraphUnavailable       ErrorCode = "GRAPH_UNAVAILABLE"
	ErrGraphQueryTimeout      ErrorCode = "GRAPH_QUERY_TIMEOUT"
	ErrVectorStoreUnavailable ErrorCode = "VECTOR_STORE_UNAVAILABLE"
	ErrDimensionMismatch      ErrorCode = "EMBEDDING_DIMENSION_MISMATCH"
	ErrEmptyContext           ErrorCode = "EMPTY_CONTEXT"
)

// Routing and generation error codes
const (
	ErrNoProviderAvailable ErrorCode = "NO_PROVIDER_AVAILABLE"
	ErrCostCeilingExceeded ErrorCode = "COST_CEILING_EXCEEDED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
)

// Citation and request error codes
const (
	ErrInvalidCitation ErrorCode = "INVALID_CITATION"
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrInvalidConfig   ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
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

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
