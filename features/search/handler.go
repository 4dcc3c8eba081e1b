package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"vecsync/internal/middleware"
	"vecsync/internal/retrieval"
)

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

// Search handles POST /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var q retrieval.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}

	results, err := h.searcher.Search(ctx, q)
	if err != nil {
		slog.WarnContext(ctx, "search failed", "error", err)
		middleware.WriteAppError(ctx, w, err)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	middleware.WriteJSON(w, http.StatusOK, results)
}
