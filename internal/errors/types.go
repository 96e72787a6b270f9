package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeRateUnavailable  ErrorType = "rate_unavailable"
	ErrorTypeInsufficientData ErrorType = "insufficient_data"
	ErrorTypeTokenState       ErrorType = "token_state"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeExternal         ErrorType = "external"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeConfiguration    ErrorType = "configuration"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeCancelled        ErrorType = "cancelled"
)

// PipelineError is the base error type for all application errors
type PipelineError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError
func New(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Cause:   err,
		Context: make(map[string]any),
	}
}

// TypeOf returns the ErrorType of the first PipelineError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type, true
	}
	return "", false
}

// IsType reports whether err's chain carries a PipelineError of the given type
func IsType(err error, errorType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errorType
}

// Validation creates a validation error
func Validation(message string) *PipelineError {
	return New(ErrorTypeValidation, message)
}

// Validationf creates a formatted validation error
func Validationf(format string, args ...any) *PipelineError {
	return New(ErrorTypeValidation, fmt.Sprintf(format, args...))
}

// RateUnavailable creates an error for a currency pair with no resolvable rate
func RateUnavailable(from, to string) *PipelineError {
	return New(ErrorTypeRateUnavailable, fmt.Sprintf("no exchange rate available for %s->%s", from, to)).
		WithContext("from", from).
		WithContext("to", to)
}

// InsufficientData creates an error for a lookup that found nothing to score
func InsufficientData(message string) *PipelineError {
	return New(ErrorTypeInsufficientData, message)
}

// TokenState creates an error for a token that cannot take the requested transition
func TokenState(message string) *PipelineError {
	return New(ErrorTypeTokenState, message)
}

// NotFound creates a not found error
func NotFound(resource string) *PipelineError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// External creates an external service error
func External(service string, err error) *PipelineError {
	return Wrap(err, ErrorTypeExternal, fmt.Sprintf("external service %s failed", service))
}

// Internal creates an internal error
func Internal(message string) *PipelineError {
	return New(ErrorTypeInternal, message)
}

// Configuration creates a configuration error
func Configuration(message string) *PipelineError {
	return New(ErrorTypeConfiguration, message)
}

// Timeout creates a timeout error
func Timeout(operation string) *PipelineError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation %s timed out", operation))
}

// Cancelled creates an error for work abandoned because the caller went away
func Cancelled(operation string, cause error) *PipelineError {
	return Wrap(cause, ErrorTypeCancelled, fmt.Sprintf("operation %s cancelled", operation))
}
