// Package errors provides the error taxonomy for the pulsefeed sync engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class. Local-store codes are the only ones
// surfaced synchronously to callers; remote codes are absorbed into the sync
// queue's retry bookkeeping.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Local store errors
	ErrLocalStoreIO       ErrorCode = "LOCAL_STORE_IO"
	ErrLocalStoreConflict ErrorCode = "LOCAL_STORE_CONFLICT"
	ErrMigrationFailed    ErrorCode = "MIGRATION_FAILED"

	// Delivery errors
	ErrRemoteTransport        ErrorCode = "REMOTE_TRANSPORT"
	ErrRemoteApplication      ErrorCode = "REMOTE_APPLICATION"
	ErrReconciliationConflict ErrorCode = "RECONCILIATION_CONFLICT"
	ErrPayloadInvalid         ErrorCode = "PAYLOAD_INVALID"
)

// AppError represents an application error with code and message.
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

// Is checks if an error anywhere in the chain carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
