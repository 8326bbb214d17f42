package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so sentinel
// errors still compare equal after being wrapped with a cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrQueryTooLong         = NewDomainError(ErrCodeValidation, "query exceeds maximum length")
	ErrMissingConversation  = NewDomainError(ErrCodeValidation, "conversation id is required")
	ErrMissingUser          = NewDomainError(ErrCodeValidation, "user id is required")
	ErrUnknownProvider      = NewDomainError(ErrCodeValidation, "unknown generation provider")
	ErrInvalidRole          = NewDomainError(ErrCodeValidation, "invalid conversation role")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrChunkNotFound        = NewDomainError(ErrCodeNotFound, "document chunk not found")
)

// Upstream errors
var (
	ErrEmbeddingUnavailable  = NewDomainError(ErrCodeUpstreamUnavailable, "embedding service unavailable")
	ErrIndexUnavailable      = NewDomainError(ErrCodeUpstreamUnavailable, "document index unavailable")
	ErrGenerationUnavailable = NewDomainError(ErrCodeUpstreamUnavailable, "generation service unavailable")
	ErrGenerationTimeout     = NewDomainError(ErrCodeTimeout, "generation timed out")
)

// Upstream wraps err as an upstream failure of the given kind.
func Upstream(kind *DomainError, err error) *DomainError {
	return NewDomainErrorWithCause(kind.Code, kind.Message, err)
}

// IsUserVisible reports whether err should reach the caller as a terminal failure.
// Everything else degrades with logging.
func IsUserVisible(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCodeValidation, ErrCodeUpstreamUnavailable, ErrCodeTimeout:
		return true
	}
	return false
}

// UserMessage returns a message that is safe to show to the caller.
func UserMessage(err error) string {
	var de *DomainError
	if !errors.As(err, &de) {
		return "The request could not be completed."
	}
	switch de.Code {
	case ErrCodeValidation, ErrCodeNotFound:
		return de.Message
	case ErrCodeTimeout:
		return "The answer took too long to generate. Please try again."
	case ErrCodeUpstreamUnavailable:
		return "A required service is temporarily unavailable. Please try again shortly."
	}
	return "The request could not be completed."
}
