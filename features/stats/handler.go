package stats

import (
	"context"
	"log/slog"
	"net/http"

	"vecsync/internal/middleware"
	"vecsync/internal/reconcile"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type PointCounter interface {
	CountPoints(ctx context.Context) (int, error)
}

type WatcherStatus interface {
	Status() reconcile.Status
}

type Handler struct {
	documents Counter
	failures  Counter
	points    PointCounter
	watcher   WatcherStatus
}

// NewHandler takes optional collaborators: a nil documents counter or point
// counter reports -1, a nil watcher reports "stopped".
func NewHandler(documents, failures Counter, points PointCounter, watcher WatcherStatus) *Handler {
	return &Handler{documents: documents, failures: failures, points: points, watcher: watcher}
}

type StatsResponse struct {
	Documents       int             `json:"documents"`
	Points          int             `json:"points"`
	FailedDocuments int             `json:"failed_documents"`
	WatcherState    reconcile.State `json:"watcher_state"`
	WatcherFailed   bool            `json:"watcher_failed"`
	EventsProcessed int64           `json:"events_processed"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting stats")

	resp := StatsResponse{Documents: -1, Points: -1, WatcherState: reconcile.StateStopped}

	if h.documents != nil {
		n, err := h.documents.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count documents", "error", err)
			middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
			return
		}
		resp.Documents = n
	}

	n, err := h.failures.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count failures", "error", err)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count failures", http.StatusInternalServerError)
		return
	}
	resp.FailedDocuments = n

	if h.points != nil {
		n, err := h.points.CountPoints(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count points", "error", err)
			middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count points", http.StatusInternalServerError)
			return
		}
		resp.Points = n
	}

	if h.watcher != nil {
		st := h.watcher.Status()
		resp.WatcherState = st.State
		resp.WatcherFailed = st.Failed
		resp.EventsProcessed = st.EventsProcessed
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}
