package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes used across the pipeline.
const (
	CodeConfig            = "CONFIG_ERROR"
	CodeAdmissionRejected = "ADMISSION_REJECTED"
	CodeDuplicateMessage  = "DUPLICATE_MESSAGE"
	CodeExtractionFailed  = "EXTRACTION_FAILED"
	CodeResolutionFailed  = "RESOLUTION_FAILED"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeQueueFull         = "QUEUE_FULL"
)

// Common application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInternal          = errors.New("internal error")
	ErrDatabase          = errors.New("database error")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTooManyRequests   = errors.New("too many requests")
	ErrUnavailable       = errors.New("service unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ExtractionFailed wraps an error raised while turning content into a receipt.
func ExtractionFailed(cause error) error {
	return NewAppError(CodeExtractionFailed, "receipt extraction failed", cause)
}

// ResolutionFailed wraps a storage error raised while matching products.
func ResolutionFailed(cause error) error {
	return NewAppError(CodeResolutionFailed, "product resolution failed", cause)
}

// PersistenceFailed wraps a storage error raised while saving the draft order.
func PersistenceFailed(cause error) error {
	return NewAppError(CodePersistenceFailed, "draft order persistence failed", cause)
}
