// Package transport serves the operational HTTP surface of stepwise: health,
// readiness, metrics and a read-only view of the registered definitions.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/stepwise/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrNotFound:         http.StatusNotFound,
	model.ErrUnauthorized:     http.StatusForbidden,
	model.ErrValidationFailed: http.StatusUnprocessableEntity,
	model.ErrInvalidState:     http.StatusConflict,
	model.ErrDefinitionError:  http.StatusUnprocessableEntity,
	model.ErrActionFailed:     http.StatusBadGateway,
	model.ErrConflict:         http.StatusConflict,
	model.ErrInternalError:    http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an envelope code, defaulting to 500.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching status. Errors
// that are not envelopes become a generic INTERNAL_ERROR so that internals
// never reach the response.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError(err)
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}
