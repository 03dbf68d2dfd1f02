// Package errors defines the typed error taxonomy shared by the validation
// engine: configuration errors abort before any work starts, data errors are
// recovered locally, and trial failures are isolated to the offending trial.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Configuration errors are rejected before any simulation starts.
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeParameterInvalid ErrorCode = "PARAMETER_INVALID"
	ErrCodeDateRangeInvalid ErrorCode = "DATE_RANGE_INVALID"

	// Data errors. INSUFFICIENT_DATA is fatal for a run; individual
	// malformed bars are downgraded to result warnings instead.
	ErrCodeDataInvalid      ErrorCode = "DATA_INVALID"
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"

	// Batch-level failures.
	ErrCodeSimulationFailed   ErrorCode = "SIMULATION_FAILED"
	ErrCodeTrialFailed        ErrorCode = "TRIAL_FAILED"
	ErrCodeOptimizationFailed ErrorCode = "OPTIMIZATION_FAILED"
	ErrCodeCancelled          ErrorCode = "CANCELLED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Severity classifies how an error should be treated by callers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError is the error type carried across component boundaries.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an AppError with the severity implied by its code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  severityFor(code),
		Timestamp: time.Now(),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error. Returns nil if err is nil; returns err
// unchanged if it is already an AppError.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	e := New(code, message)
	e.Cause = err
	return e
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func severityFor(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal, ErrCodeSimulationFailed:
		return SeverityCritical
	case ErrCodeOptimizationFailed, ErrCodeInsufficientData:
		return SeverityHigh
	case ErrCodeTrialFailed, ErrCodeDataInvalid:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
