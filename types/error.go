package types

import "fmt"

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Store and pipeline error codes
const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
	ErrEmbeddingUnavailable  ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrGenerationUnavailable ErrorCode = "GENERATION_UNAVAILABLE"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrInternalError         ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
// Stage carries the pipeline stage that produced the failure, allowing the
// caller to decide on retry.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Stage      string    `json:"stage,omitempty"`
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

// WithStage records the pipeline stage that failed.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// HTTPStatusFor maps an error to an HTTP status code, defaulting to 500.
func HTTPStatusFor(err error) int {
	if e, ok := err.(*Error); ok && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return 500
}
