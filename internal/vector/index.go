package vector

import (
	"context"
)

// Payload keys written for every point.
const (
	PayloadDocID       = "docId"
	PayloadSource      = "source"
	PayloadSyncedAt    = "syncedAt"
	PayloadChunkIndex  = "chunkIndex"
	PayloadContent     = "content"
	PayloadStartOffset = "startOffset"
	PayloadEndOffset   = "endOffset"
)

// Point is one embedded chunk stored in the index.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// DocID returns the owning document id from the payload.
func (p Point) DocID() string {
	id, _ := p.Payload[PayloadDocID].(string)
	return id
}

// ScoredPoint is a search hit. Vector is only set when requested.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
}

// SearchParams carries backend-specific tuning.
type SearchParams struct {
	// Autocut limits results to the first N score jumps. Zero disables it.
	Autocut int `json:"autocut,omitempty"`
}

type SearchRequest struct {
	Vector         []float32
	Limit          int
	Filter         *Filter
	WithPayload    bool
	WithVector     bool
	ScoreThreshold *float32
	Params         *SearchParams
}

// Index is the contract the sync engine and query path need from a vector database.
type Index interface {
	// EnsureCollection reports whether the collection exists after the call.
	EnsureCollection(ctx context.Context, createIfMissing bool) (bool, error)
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, req SearchRequest) ([]ScoredPoint, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter *Filter) error
	// DeleteByDocID removes every point owned by docID. Deleting a document
	// that has no points is not an error.
	DeleteByDocID(ctx context.Context, docID string) error
	HealthCheck(ctx context.Context) (bool, error)
}

// Counter is implemented by indexes that can report their size.
type Counter interface {
	CountPoints(ctx context.Context) (int, error)
}
