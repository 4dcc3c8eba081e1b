package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"vecsync/internal/apperr"
	"vecsync/internal/source"
	"vecsync/internal/text"
)

const DefaultBatchSize = 100

type BulkRequest struct {
	BatchSize   int          `json:"batch_size"`
	Mapping     FieldMapping `json:"mapping"`
	OnlyMissing bool         `json:"only_missing"`
	DryRun      bool         `json:"dry_run"`
}

// Validate fills defaults and rejects malformed requests.
func (r *BulkRequest) Validate() error {
	if r.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", apperr.ErrInput)
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	return r.Mapping.Validate()
}

type DocumentError struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// Stats accumulates the result of a bulk run.
type Stats struct {
	DocumentsProcessed int             `json:"documents_processed"`
	ChunksCreated      int             `json:"chunks_created"`
	PointsUpserted     int             `json:"points_upserted"`
	DocumentsSkipped   int             `json:"documents_skipped"`
	Errors             []DocumentError `json:"errors"`
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) processed(chunks, points int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.DocumentsProcessed++
	r.stats.ChunksCreated += chunks
	r.stats.PointsUpserted += points
}

func (r *statsRecorder) skipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.DocumentsSkipped++
}

func (r *statsRecorder) failed(docID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Errors = append(r.stats.Errors, DocumentError{DocumentID: docID, Error: err.Error()})
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Errors = append([]DocumentError(nil), r.stats.Errors...)
	return s
}

// Bulk walks the whole source collection in id order and reconciles every
// document. Per-document failures are counted and recorded, never returned;
// the returned error is reserved for scan failures and cancellation.
func (e *Engine) Bulk(ctx context.Context, req BulkRequest) (Stats, error) {
	if err := req.Validate(); err != nil {
		return Stats{}, err
	}
	if !req.DryRun {
		if err := e.writable(); err != nil {
			return Stats{}, err
		}
	}
	if e.store == nil {
		return Stats{}, errors.New("no source store configured")
	}

	rec := &statsRecorder{}
	slog.InfoContext(ctx, "bulk sync started", "batch_size", req.BatchSize, "only_missing", req.OnlyMissing, "dry_run", req.DryRun)

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return rec.snapshot(), err
		}
		docs, err := e.store.Scan(ctx, after, req.BatchSize, req.OnlyMissing)
		if err != nil {
			return rec.snapshot(), fmt.Errorf("scan source: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Concurrency)
		for _, doc := range docs {
			g.Go(func() error {
				if req.DryRun {
					e.preview(doc, req.Mapping, rec)
				} else {
					e.bulkOne(gctx, doc, req.Mapping, rec)
				}
				return nil
			})
		}
		_ = g.Wait()

		after = docs[len(docs)-1].ID
		slog.InfoContext(ctx, "bulk batch done", "size", len(docs), "last_id", after)
		if len(docs) < req.BatchSize {
			break
		}
	}

	stats := rec.snapshot()
	slog.InfoContext(ctx, "bulk sync finished",
		"processed", stats.DocumentsProcessed,
		"skipped", stats.DocumentsSkipped,
		"chunks", stats.ChunksCreated,
		"points", stats.PointsUpserted,
		"errors", len(stats.Errors))
	return stats, nil
}

func (e *Engine) bulkOne(ctx context.Context, doc source.Document, m FieldMapping, rec *statsRecorder) {
	out, err := e.ReconcileDocument(ctx, doc, m)
	if err != nil {
		slog.ErrorContext(ctx, "bulk reconcile failed", "error", err, "doc_id", doc.ID)
		rec.failed(doc.ID, err)
		e.recordFailure(ctx, doc.ID, source.OpUpdate, err)
		return
	}
	if out.Skipped {
		rec.skipped()
		return
	}
	rec.processed(out.Chunks, out.Points)
}

// preview counts the chunks a document would produce without embedding or
// touching the index.
func (e *Engine) preview(doc source.Document, m FieldMapping, rec *statsRecorder) {
	body, ok := doc.Text(m.TextField)
	if !ok {
		rec.skipped()
		return
	}
	chunks := text.Split(body, e.opts.Chunking)
	if len(chunks) == 0 {
		rec.skipped()
		return
	}
	rec.processed(len(chunks), 0)
}
