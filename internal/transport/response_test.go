package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/stepwise/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("workflow not found"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
	if resp.Error.Message != "workflow not found" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("advance: %w", model.NewConflictError("moved")))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestWriteError_nonEnvelopeHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("dial tcp 10.0.0.1:5432: connection refused"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want INTERNAL_ERROR", resp.Error.Code)
	}
	if resp.Error.Message != "An unexpected error occurred" {
		t.Errorf("message leaked cause: %q", resp.Error.Message)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrUnauthorized, http.StatusForbidden},
		{model.ErrValidationFailed, http.StatusUnprocessableEntity},
		{model.ErrInvalidState, http.StatusConflict},
		{model.ErrDefinitionError, http.StatusUnprocessableEntity},
		{model.ErrActionFailed, http.StatusBadGateway},
		{model.ErrConflict, http.StatusConflict},
		{model.ErrInternalError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusFor(tt.code); got != tt.want {
				t.Errorf("StatusFor(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
