package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Capture outcomes
	ErrorTypeDetectionUnavailable ErrorType = "detection_unavailable"
	ErrorTypeDecodeEmpty          ErrorType = "decode_empty"
	ErrorTypeDuplicateCode        ErrorType = "duplicate_code"
	ErrorTypePersistenceFailed    ErrorType = "persistence_failed"
	ErrorTypeUnexpected           ErrorType = "unexpected"

	// Request handling
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeInternal    ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy of the error carrying extra detail text
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewDetectionUnavailableError is returned when no page could be rectified
func NewDetectionUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeDetectionUnavailable,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewDecodeEmptyError is returned when no valid barcode was found
func NewDecodeEmptyError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeDecodeEmpty,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewPersistenceError is returned when the captured page could not be written
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypePersistenceFailed,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewUnexpectedError wraps a fault recovered inside a pipeline stage
func NewUnexpectedError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnexpected,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewUnavailableError is used when the capture service cannot accept work
func NewUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetType returns the error type, or ErrorTypeUnexpected for foreign errors
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnexpected
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
