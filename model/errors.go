package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrNotFound         = "NOT_FOUND"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrInvalidState     = "INVALID_STATE"
	ErrDefinitionError  = "DEFINITION_ERROR"
	ErrActionFailed     = "ACTION_FAILED"
	ErrConflict         = "CONFLICT"
	ErrInternalError    = "INTERNAL_ERROR"
)

// ErrorEnvelope is the tagged error returned by every engine operation.
// Callers map Code to their own presentation layer.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level problem, typically in a definition.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the envelope code of err, or "" if err is not (and does
// not wrap) an *ErrorEnvelope.
func ErrorCode(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err carries the given envelope code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewValidationFailedError returns a VALIDATION_FAILED error carrying the
// checker's reason.
func NewValidationFailedError(reason string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationFailed, Message: reason}
}

// NewInvalidStateError returns an INVALID_STATE error.
func NewInvalidStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidState, Message: msg}
}

// NewDefinitionError returns a DEFINITION_ERROR with field-level details.
func NewDefinitionError(msg string, details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDefinitionError, Message: msg, Details: details}
}

// NewActionFailedError returns an ACTION_FAILED error wrapping the action's error.
func NewActionFailedError(stepID string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrActionFailed,
		Message: fmt.Sprintf("action for step %q failed: %v", stepID, cause),
		cause:   cause,
	}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR wrapping cause.
func NewInternalError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
		cause:   cause,
	}
}
