// Package errors defines the error taxonomy surfaced by the job coordination layer.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeUnknownJob indicates the job name is not registered.
	ErrCodeUnknownJob ErrorCode = "unknown_job"
	// ErrCodeUnknownGroup indicates no registered job declares the group.
	ErrCodeUnknownGroup ErrorCode = "unknown_group"
	// ErrCodeInvalidParameters indicates malformed caller input.
	ErrCodeInvalidParameters ErrorCode = "invalid_parameters"
	// ErrCodeNotFound indicates a run or worker does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInvalidState indicates the operation is not valid for the current state.
	ErrCodeInvalidState ErrorCode = "invalid_state"
	// ErrCodeCyclicDependency indicates the job registry declares a dependency cycle.
	ErrCodeCyclicDependency ErrorCode = "cyclic_dependency"
	// ErrCodeStorage indicates an opaque, retryable persistence failure.
	ErrCodeStorage ErrorCode = "storage"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific input field that caused the error (optional)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// UnknownJob creates an error for an unregistered job name.
func UnknownJob(name string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownJob,
		Message: fmt.Sprintf("unknown job %q", name),
		Field:   "job_name",
	}
}

// UnknownGroup creates an error for a group no job belongs to.
func UnknownGroup(group string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownGroup,
		Message: fmt.Sprintf("unknown job group %q", group),
		Field:   "group",
	}
}

// InvalidParameters creates an input error for a specific field.
func InvalidParameters(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidParameters,
		Message: message,
		Field:   field,
	}
}

// InvalidParametersf creates an input error with a formatted message.
func InvalidParametersf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidParameters,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidState creates a new InvalidState error.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidState,
		Message: message,
	}
}

// InvalidStatef creates a new InvalidState error with formatted message.
func InvalidStatef(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf(format, args...),
	}
}

// CyclicDependency creates an error naming the jobs that form a cycle.
func CyclicDependency(jobs []string) *AppError {
	return &AppError{
		Code:    ErrCodeCyclicDependency,
		Message: "job dependency cycle among: " + strings.Join(jobs, ", "),
	}
}

// Storage wraps a persistence failure without exposing its details in the message.
func Storage(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    ErrCodeStorage,
		Message: "storage unavailable, please retry",
		Cause:   err,
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsUnknownJob checks if an error is an UnknownJob error.
func IsUnknownJob(err error) bool {
	return isCode(err, ErrCodeUnknownJob)
}

// IsUnknownGroup checks if an error is an UnknownGroup error.
func IsUnknownGroup(err error) bool {
	return isCode(err, ErrCodeUnknownGroup)
}

// IsInvalidParameters checks if an error is an InvalidParameters error.
func IsInvalidParameters(err error) bool {
	return isCode(err, ErrCodeInvalidParameters)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsInvalidState checks if an error is an InvalidState error.
func IsInvalidState(err error) bool {
	return isCode(err, ErrCodeInvalidState)
}

// IsCyclicDependency checks if an error is a CyclicDependency error.
func IsCyclicDependency(err error) bool {
	return isCode(err, ErrCodeCyclicDependency)
}

// IsStorage checks if an error is a Storage error.
func IsStorage(err error) bool {
	return isCode(err, ErrCodeStorage)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeStorage, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
