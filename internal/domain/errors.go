package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies failures across the service.
type ErrorType string

const (
	ErrorTypeUnsupportedFormat  ErrorType = "unsupported_format"
	ErrorTypeTooLarge           ErrorType = "too_large"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeOCRFailed          ErrorType = "ocr_failed"
	ErrorTypeExtractionFailed   ErrorType = "extraction_failed"
	ErrorTypeRenderFailed       ErrorType = "render_failed"
	ErrorTypeStorageUnavailable ErrorType = "storage_unavailable"
	ErrorTypeCapacityExceeded   ErrorType = "capacity_exceeded"
	ErrorTypeInvalidTransition  ErrorType = "invalid_transition"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeRateLimited        ErrorType = "rate_limited"
	ErrorTypeInternal           ErrorType = "internal"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error

	// RetryAfter hints when a rejected request may be retried.
	RetryAfter time.Duration
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports a match when target is a DomainError of the same type, so
// errors.Is(err, ErrNotFound) works for any not-found error.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// Sentinels for errors.Is checks.
var (
	ErrUnsupportedFormat  = &DomainError{Type: ErrorTypeUnsupportedFormat, Message: "unsupported format"}
	ErrTooLarge           = &DomainError{Type: ErrorTypeTooLarge, Message: "file too large"}
	ErrValidation         = &DomainError{Type: ErrorTypeValidation, Message: "validation failed"}
	ErrOCRFailed          = &DomainError{Type: ErrorTypeOCRFailed, Message: "ocr failed"}
	ErrExtractionFailed   = &DomainError{Type: ErrorTypeExtractionFailed, Message: "table extraction failed"}
	ErrRenderFailed       = &DomainError{Type: ErrorTypeRenderFailed, Message: "render failed"}
	ErrStorageUnavailable = &DomainError{Type: ErrorTypeStorageUnavailable, Message: "storage unavailable"}
	ErrCapacityExceeded   = &DomainError{Type: ErrorTypeCapacityExceeded, Message: "capacity exceeded"}
	ErrInvalidTransition  = &DomainError{Type: ErrorTypeInvalidTransition, Message: "invalid transition"}
	ErrNotFound           = &DomainError{Type: ErrorTypeNotFound, Message: "not found"}
	ErrConflict           = &DomainError{Type: ErrorTypeConflict, Message: "conflict"}
	ErrCancelled          = &DomainError{Type: ErrorTypeCancelled, Message: "cancelled"}
	ErrRateLimited        = &DomainError{Type: ErrorTypeRateLimited, Message: "rate limited"}
)

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func UnsupportedFormatError(message string, err error) *DomainError {
	return NewError(ErrorTypeUnsupportedFormat, message, err)
}

func TooLargeError(message string, err error) *DomainError {
	return NewError(ErrorTypeTooLarge, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func OCRFailedError(message string, err error) *DomainError {
	return NewError(ErrorTypeOCRFailed, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtractionFailed, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorTypeRenderFailed, message, err)
}

func StorageUnavailableError(message string, err error) *DomainError {
	return NewError(ErrorTypeStorageUnavailable, message, err)
}

func CapacityExceededError(message string, err error) *DomainError {
	return NewError(ErrorTypeCapacityExceeded, message, err)
}

func InvalidTransitionError(message string, err error) *DomainError {
	return NewError(ErrorTypeInvalidTransition, message, err)
}

func NotFoundError(message string, err error) *DomainError {
	return NewError(ErrorTypeNotFound, message, err)
}

func ConflictError(message string, err error) *DomainError {
	return NewError(ErrorTypeConflict, message, err)
}

func RateLimitedError(message string, retryAfter time.Duration) *DomainError {
	e := NewError(ErrorTypeRateLimited, message, nil)
	e.RetryAfter = retryAfter
	return e
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var de *DomainError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeInternal when err
// is not a DomainError.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// JobError is the structured failure reason attached to a failed job.
type JobError struct {
	Kind    ErrorType `json:"kind"`
	Message string    `json:"message"`
}

// AsJobError converts any error into the reason stored on a failed job.
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Kind: TypeOf(err), Message: err.Error()}
}
