package indexsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"vecsync/internal/middleware"
	"vecsync/internal/reconcile"
	"vecsync/internal/scheduler"
)

type Engine interface {
	Bulk(ctx context.Context, req reconcile.BulkRequest) (reconcile.Stats, error)
	ReconcileByID(ctx context.Context, docID string, m reconcile.FieldMapping) (reconcile.Outcome, error)
}

type Watcher interface {
	Start(ctx context.Context) error
	Stop()
	Status() reconcile.Status
}

type Scheduler interface {
	Status() scheduler.Status
}

type Handler struct {
	engine    Engine
	watcher   Watcher
	scheduler Scheduler
	mapping   reconcile.FieldMapping
	// base outlives individual requests; the watcher is started under it.
	base context.Context
}

// NewHandler wires the sync endpoints. watcher and sched may be nil when the
// process runs without a feed or schedule.
func NewHandler(base context.Context, e Engine, w Watcher, sched Scheduler, mapping reconcile.FieldMapping) *Handler {
	return &Handler{engine: e, watcher: w, scheduler: sched, mapping: mapping, base: base}
}

type StatusResponse struct {
	Watcher   *reconcile.Status `json:"watcher,omitempty"`
	Scheduler *scheduler.Status `json:"scheduler,omitempty"`
}

// Bulk handles POST /sync. An empty body runs a full reconcile with the
// configured mapping.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reconcile.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Mapping.TextField == "" {
		req.Mapping = h.mapping
	}

	stats, err := h.engine.Bulk(ctx, req)
	if err != nil {
		if errors.Is(err, reconcile.ErrReadOnly) {
			middleware.WriteError(ctx, w, "READ_ONLY", err.Error(), http.StatusForbidden)
			return
		}
		slog.ErrorContext(ctx, "bulk sync failed", "error", err)
		middleware.WriteAppError(ctx, w, err)
		return
	}
	if stats.Errors == nil {
		stats.Errors = []reconcile.DocumentError{}
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}

// Reconcile handles POST /documents/{id}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if id == "" {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "document id is required", http.StatusBadRequest)
		return
	}

	out, err := h.engine.ReconcileByID(ctx, id, h.mapping)
	if err != nil {
		if errors.Is(err, reconcile.ErrReadOnly) {
			middleware.WriteError(ctx, w, "READ_ONLY", err.Error(), http.StatusForbidden)
			return
		}
		slog.ErrorContext(ctx, "reconcile failed", "doc_id", id, "error", err)
		middleware.WriteAppError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if h.watcher != nil {
		st := h.watcher.Status()
		resp.Watcher = &st
	}
	if h.scheduler != nil {
		st := h.scheduler.Status()
		resp.Scheduler = &st
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) StartWatcher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.watcher == nil {
		middleware.WriteError(ctx, w, "NOT_CONFIGURED", "no change feed configured", http.StatusConflict)
		return
	}
	if err := h.watcher.Start(h.base); err != nil {
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			middleware.WriteError(ctx, w, "ALREADY_RUNNING", err.Error(), http.StatusConflict)
			return
		}
		middleware.WriteAppError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "watcher started")
	middleware.WriteJSON(w, http.StatusAccepted, h.watcher.Status())
}

func (h *Handler) StopWatcher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.watcher == nil {
		middleware.WriteError(ctx, w, "NOT_CONFIGURED", "no change feed configured", http.StatusConflict)
		return
	}
	h.watcher.Stop()
	slog.InfoContext(ctx, "watcher stopped")
	middleware.WriteJSON(w, http.StatusOK, h.watcher.Status())
}
