package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"vecsync/internal/apperr"
)

// WriteJSON writes v wrapped in a {"data": ...} envelope.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func WriteError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": GetCorrelationID(ctx),
	}

	json.NewEncoder(w).Encode(resp)
}

// WriteAppError maps the error kind to a status code and writes the envelope.
func WriteAppError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case apperr.IsInput(err):
		WriteError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case apperr.IsProvider(err):
		WriteError(ctx, w, "UPSTREAM_ERROR", err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(ctx, w, "TIMEOUT", err.Error(), http.StatusGatewayTimeout)
	default:
		WriteError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}
