package failure

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"vecsync/internal/middleware"
	"vecsync/internal/reconcile"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteError(ctx, w, "VALIDATION_ERROR", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	failures, err := h.service.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failures", "error", err)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []Failure{}
	}
	middleware.WriteJSON(w, http.StatusOK, failures)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	slog.InfoContext(ctx, "retrying failed document", "id", id)

	out, err := h.service.Retry(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteError(ctx, w, "NOT_FOUND", "failure not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, reconcile.ErrReadOnly) {
			middleware.WriteError(ctx, w, "READ_ONLY", err.Error(), http.StatusForbidden)
			return
		}
		slog.ErrorContext(ctx, "retry failed", "id", id, "error", err)
		middleware.WriteAppError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}
