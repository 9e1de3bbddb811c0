// Package errors provides error code definitions shared across the sync engine.
package errors

import "fmt"

// ErrorCode represents a stable, machine-readable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
	ErrInvalid     ErrorCode = "INVALID_INPUT"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrPersistence ErrorCode = "PERSISTENCE_FAILURE"

	// Sync errors
	ErrNotAuthenticated  ErrorCode = "NOT_AUTHENTICATED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrTransientNetwork  ErrorCode = "TRANSIENT_NETWORK"
	ErrDuplicateConflict ErrorCode = "DUPLICATE_CONFLICT"

	// Media validation errors
	ErrValidation      ErrorCode = "VALIDATION_FAILURE"
	ErrFileMissing     ErrorCode = "FILE_MISSING"
	ErrFileTooLarge    ErrorCode = "TOO_LARGE"
	ErrUnsupportedType ErrorCode = "UNSUPPORTED_TYPE"
	ErrCompression     ErrorCode = "COMPRESSION_FAILED"

	// Remote store errors
	ErrRemote       ErrorCode = "REMOTE_ERROR"
	ErrRemoteUpload ErrorCode = "REMOTE_UPLOAD_FAILED"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
