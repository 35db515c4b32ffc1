package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "workflow not found"}
	want := "NOT_FOUND: workflow not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		want string
	}{
		{"not found", NewNotFoundError("x"), ErrNotFound},
		{"unauthorized", NewUnauthorizedError("x"), ErrUnauthorized},
		{"validation failed", NewValidationFailedError("x"), ErrValidationFailed},
		{"invalid state", NewInvalidStateError("x"), ErrInvalidState},
		{"definition", NewDefinitionError("x", nil), ErrDefinitionError},
		{"action failed", NewActionFailedError("create", errors.New("boom")), ErrActionFailed},
		{"conflict", NewConflictError("x"), ErrConflict},
		{"internal", NewInternalError(errors.New("boom")), ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.want {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.want)
			}
		})
	}
}

func TestNewValidationFailedError_carriesReason(t *testing.T) {
	e := NewValidationFailedError("user has no department scope")
	if e.Message != "user has no department scope" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestNewDefinitionError_details(t *testing.T) {
	details := []FieldError{{Field: "steps", Code: "REQUIRED", Message: "at least one step is required"}}
	e := NewDefinitionError("invalid definition", details)
	if len(e.Details) != 1 || e.Details[0].Field != "steps" {
		t.Errorf("Details = %+v", e.Details)
	}
}

func TestNewActionFailedError_unwraps(t *testing.T) {
	cause := errors.New("smtp down")
	e := NewActionFailedError("notify", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is(e, cause) = false, want true")
	}
}

func TestNewInternalError_hidesCause(t *testing.T) {
	cause := errors.New("connection refused on 10.0.0.3")
	e := NewInternalError(cause)
	if e.Message != "An unexpected error occurred" {
		t.Errorf("Message = %q, want generic message", e.Message)
	}
	if !errors.Is(e, cause) {
		t.Error("cause should still be reachable via errors.Is")
	}
}

func TestErrorCode_wrapped(t *testing.T) {
	err := fmt.Errorf("advance: %w", NewInvalidStateError("paused"))
	if got := ErrorCode(err); got != ErrInvalidState {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrInvalidState)
	}
	if !IsCode(err, ErrInvalidState) {
		t.Error("IsCode() = false, want true")
	}
}

func TestErrorCode_plainError(t *testing.T) {
	if got := ErrorCode(errors.New("plain")); got != "" {
		t.Errorf("ErrorCode() = %q, want empty", got)
	}
	if IsCode(nil, ErrNotFound) {
		t.Error("IsCode(nil) = true, want false")
	}
}
