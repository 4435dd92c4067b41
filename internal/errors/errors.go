// Package errors provides a structured application error type with an HTTP
// status mapping, safe external messages, and structured logging fields.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for status-code mapping and safe-message
// lookup.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"

	// Domain-specific kinds, not present in the teacher's taxonomy.
	ErrorTypeStoreUnavailable    ErrorType = "store_unavailable"
	ErrorTypeEnricherUnavailable ErrorType = "enricher_unavailable"
	ErrorTypeExecutorFailed      ErrorType = "executor_failed"
	ErrorTypeExecutorUnavailable ErrorType = "executor_unavailable"
	ErrorTypeInvalidInput        ErrorType = "invalid_input"
	ErrorTypeAlreadyResolved     ErrorType = "already_resolved"
)

// AppError is the structured error every package in this module returns
// across package boundaries.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError with the status code derived from Type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeForType(t),
	}
}

// Wrap creates an AppError of the given type around an existing error.
func Wrap(err error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeForType(t),
		Cause:      err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(err, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional context, mutating e in place and
// returning it for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func statusCodeForType(t ErrorType) int {
	switch t {
	case ErrorTypeValidation, ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict, ErrorTypeAlreadyResolved:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal,
		ErrorTypeStoreUnavailable, ErrorTypeEnricherUnavailable,
		ErrorTypeExecutorFailed, ErrorTypeExecutorUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError is a constructor for the common validation-error shape.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError wraps a driver error with the failing operation name.
func NewDatabaseError(op string, err error) *AppError {
	return Wrap(err, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", op))
}

// NewNotFoundError builds the standard "<resource> not found" message.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError is a constructor for the common auth-error shape.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewTimeoutError builds the standard "operation timed out: <op>" message.
func NewTimeoutError(op string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", op))
}

// NewInvalidInputError wraps a validator/v10 (or hand-rolled) validation
// failure as an InvalidInput AppError.
func NewInvalidInputError(err error) *AppError {
	return Wrap(err, ErrorTypeInvalidInput, "input failed validation")
}

// NewStoreUnavailableError signals the OutcomeStore backend could not be
// reached.
func NewStoreUnavailableError(err error) *AppError {
	return Wrap(err, ErrorTypeStoreUnavailable, "outcome store unavailable")
}

// NewEnricherUnavailableError signals the Enricher collaborator failed or
// timed out; callers fall back to the default enrichment result.
func NewEnricherUnavailableError(err error) *AppError {
	return Wrap(err, ErrorTypeEnricherUnavailable, "enrichment unavailable")
}

// NewExecutorFailedError signals a resurrection attempt itself failed.
func NewExecutorFailedError(err error) *AppError {
	return Wrap(err, ErrorTypeExecutorFailed, "resurrection execution failed")
}

// NewExecutorUnavailableError signals the Executor collaborator could not be
// reached at all.
func NewExecutorUnavailableError(err error) *AppError {
	return Wrap(err, ErrorTypeExecutorUnavailable, "executor unavailable")
}

// NewAlreadyResolvedError signals a decision or outcome was already
// finalized and cannot be mutated again.
func NewAlreadyResolvedError(id string) *AppError {
	return New(ErrorTypeAlreadyResolved, fmt.Sprintf("%s already resolved", id))
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns err's ErrorType, defaulting to ErrorTypeInternal for
// anything that isn't an AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns err's HTTP status, defaulting to 500.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the external-facing, redacted text for each error
// type that should not leak internal detail.
type ErrorMessages struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}

var defaultErrorMessages = ErrorMessages{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to show outside the process:
// validation messages pass through verbatim since they describe caller
// input, everything else is redacted to a generic category message.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeInvalidInput:
		return appErr.Message
	case ErrorTypeNotFound:
		return defaultErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return defaultErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return defaultErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return defaultErrorMessages.RateLimitExceeded
	case ErrorTypeConflict, ErrorTypeAlreadyResolved:
		return defaultErrorMessages.ConcurrentModification
	case ErrorTypeDatabase:
		return "An internal error occurred"
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for zap.Any / logrus
// WithFields calls.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		fields["error_type"] = string(ErrorTypeInternal)
		fields["status_code"] = http.StatusInternalServerError
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins the messages of multiple errors with " -> ", skipping nils.
// Returns nil if every argument is nil, and returns the lone error
// unmodified if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msgs := make([]string, len(nonNil))
	for i, e := range nonNil {
		msgs[i] = e.Error()
	}
	return errors.New(strings.Join(msgs, " -> "))
}
