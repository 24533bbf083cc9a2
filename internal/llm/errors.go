package llm

import (
	"errors"
	"fmt"
)

// Error represents a failure of the completion capability.
type Error struct {
	// Type categorizes the error
	Type string

	// Message is a human-readable error message
	Message string

	// Code is the HTTP status code (if applicable)
	Code int

	// Err is the underlying error
	Err error
}

// Error types.
const (
	ErrorTypeConfig  = "config"
	ErrorTypeNetwork = "network"
	ErrorTypeAPI     = "api"
	ErrorTypeTimeout = "timeout"
	ErrorTypeEmpty   = "empty"
	ErrorTypeParse   = "parse"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("LLM %s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("LLM %s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports a client that cannot make requests at all.
func NewConfigError(message string) *Error {
	return &Error{Type: ErrorTypeConfig, Message: message}
}

// NewNetworkError creates a network error.
func NewNetworkError(err error) *Error {
	return &Error{
		Type:    ErrorTypeNetwork,
		Message: "Failed to reach the completion API. Check your network connection.",
		Err:     err,
	}
}

// NewAPIError creates an API error with status code.
func NewAPIError(code int, message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeAPI,
		Code:    code,
		Message: fmt.Sprintf("completion API error: %s", message),
		Err:     err,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(err error) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Message: "Request timed out. The model may be under heavy load.",
		Err:     err,
	}
}

// NewEmptyError reports a response without usable content.
func NewEmptyError() *Error {
	return &Error{Type: ErrorTypeEmpty, Message: "no choices in response"}
}

// NewParseError creates a parse error.
func NewParseError(content string, err error) *Error {
	return &Error{
		Type:    ErrorTypeParse,
		Message: fmt.Sprintf("Failed to parse LLM output: %s", content),
		Err:     err,
	}
}

// ErrorType returns the category of err, or "unknown" for foreign errors.
func ErrorType(err error) string {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return "unknown"
}
