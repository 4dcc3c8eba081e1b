// Package reconcile keeps the vector index in step with the source store:
// single-document reconciliation, bulk passes and the change-feed watcher.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"vecsync/internal/apperr"
	"vecsync/internal/embedding"
	"vecsync/internal/middleware"
	"vecsync/internal/source"
	"vecsync/internal/text"
	"vecsync/internal/vector"
)

// ErrReadOnly is returned by every operation that would write to the index
// or the source store on a read-only engine.
var ErrReadOnly = errors.New("sync is disabled in read-only mode")

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("vecsync/points"))

// FieldMapping says where a document keeps its text and which other fields
// are copied into every point's payload.
type FieldMapping struct {
	TextField      string   `yaml:"text_field" json:"text_field"`
	MetadataFields []string `yaml:"metadata_fields" json:"metadata_fields"`
	SourceTag      string   `yaml:"source_tag" json:"source_tag"`
}

func (m FieldMapping) Validate() error {
	if m.TextField == "" {
		return fmt.Errorf("%w: text field is required", apperr.ErrInput)
	}
	return nil
}

// Outcome describes what one reconciliation did.
type Outcome struct {
	DocumentID string `json:"document_id"`
	// Skipped is set when the document had no usable text and only its old
	// points were removed.
	Skipped bool `json:"skipped"`
	Chunks  int  `json:"chunks"`
	Points  int  `json:"points"`
}

// FailureRecorder persists documents that could not be reconciled so they
// can be listed and retried. Resolve clears a document once it reconciles.
type FailureRecorder interface {
	Record(ctx context.Context, docID string, op source.Operation, cause error) error
	Resolve(ctx context.Context, docID string) error
}

type Options struct {
	Chunking text.Options
	// Concurrency bounds how many documents a bulk batch reconciles at once.
	Concurrency    int
	ReadOnly       bool
	EmbedBatchSize int
	EmbedDelay     time.Duration
}

type Engine struct {
	index    vector.Index
	embedder embedding.Provider
	store    source.Store
	failures FailureRecorder
	opts     Options
	now      func() time.Time
}

// NewEngine wires an engine. store and failures may be nil; without a store
// only event-driven reconciliation is available.
func NewEngine(index vector.Index, provider embedding.Provider, store source.Store, failures FailureRecorder, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	paced, ok := provider.(*embedding.Paced)
	if !ok {
		paced = embedding.NewPaced(provider, opts.EmbedBatchSize, opts.EmbedDelay)
	}
	return &Engine{
		index:    index,
		embedder: paced,
		store:    store,
		failures: failures,
		opts:     opts,
		now:      time.Now,
	}
}

func (e *Engine) ReadOnly() bool { return e.opts.ReadOnly }

func (e *Engine) writable() error {
	if e.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// ReconcileDocument replaces every point owned by doc with points built from
// its current text. A document without usable text ends with no points.
func (e *Engine) ReconcileDocument(ctx context.Context, doc source.Document, m FieldMapping) (Outcome, error) {
	out := Outcome{DocumentID: doc.ID}
	if err := e.writable(); err != nil {
		return out, err
	}
	if doc.ID == "" {
		return out, fmt.Errorf("%w: document id is required", apperr.ErrInput)
	}
	if err := m.Validate(); err != nil {
		return out, err
	}
	ctx = middleware.WithDocumentID(ctx, doc.ID)

	if err := e.index.DeleteByDocID(ctx, doc.ID); err != nil {
		return out, fmt.Errorf("delete previous points: %w", err)
	}

	body, ok := doc.Text(m.TextField)
	if !ok {
		slog.InfoContext(ctx, "document has no text, points removed", "field", m.TextField)
		out.Skipped = true
		e.resolveFailure(ctx, doc.ID)
		return out, nil
	}

	chunks := text.Split(body, e.opts.Chunking)
	if len(chunks) == 0 {
		out.Skipped = true
		e.resolveFailure(ctx, doc.ID)
		return out, nil
	}
	out.Chunks = len(chunks)

	maxTokens := e.embedder.MaxInputLength()
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		if err := text.Validate(c.Text, maxTokens); err != nil {
			return out, fmt.Errorf("chunk %d: %w", c.SequenceIndex, err)
		}
		inputs[i] = c.Text
	}

	vecs, err := e.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return out, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return out, fmt.Errorf("%w: got %d vectors for %d chunks", apperr.ErrProvider, len(vecs), len(chunks))
	}
	if err := sameDimensions(vecs); err != nil {
		return out, err
	}

	syncedAt := e.now().UTC().Format(time.RFC3339)
	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:      PointID(doc.ID, c.SequenceIndex, c.Text),
			Vector:  vecs[i],
			Payload: payloadFor(doc, c, m, syncedAt),
		}
	}

	if err := e.index.Upsert(ctx, points); err != nil {
		return out, fmt.Errorf("upsert points: %w", err)
	}
	out.Points = len(points)

	if marker, ok := e.store.(source.Marker); ok {
		if err := marker.MarkEmbedded(ctx, doc.ID, e.now()); err != nil {
			slog.WarnContext(ctx, "failed to mark document embedded", "error", err)
		}
	}
	e.resolveFailure(ctx, doc.ID)

	slog.InfoContext(ctx, "document reconciled", "chunks", out.Chunks, "points", out.Points)
	return out, nil
}

// DeleteDocument removes every point owned by docID.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	if err := e.writable(); err != nil {
		return err
	}
	if docID == "" {
		return fmt.Errorf("%w: document id is required", apperr.ErrInput)
	}
	ctx = middleware.WithDocumentID(ctx, docID)
	if err := e.index.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	slog.InfoContext(ctx, "document points deleted")
	e.resolveFailure(ctx, docID)
	return nil
}

// ReconcileByID loads the current snapshot from the store and reconciles it.
// A document that no longer exists has its points deleted.
func (e *Engine) ReconcileByID(ctx context.Context, docID string, m FieldMapping) (Outcome, error) {
	if err := e.writable(); err != nil {
		return Outcome{DocumentID: docID}, err
	}
	if e.store == nil {
		return Outcome{DocumentID: docID}, errors.New("no source store configured")
	}
	doc, err := e.store.Get(ctx, docID)
	if err != nil {
		return Outcome{DocumentID: docID}, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		doc = &source.Document{ID: docID}
	}
	return e.ReconcileDocument(ctx, *doc, m)
}

func (e *Engine) recordFailure(ctx context.Context, docID string, op source.Operation, cause error) {
	if e.failures == nil {
		return
	}
	if err := e.failures.Record(ctx, docID, op, cause); err != nil {
		slog.ErrorContext(ctx, "failed to record reconcile failure", "error", err, "doc_id", docID)
	}
}

func (e *Engine) resolveFailure(ctx context.Context, docID string) {
	if e.failures == nil {
		return
	}
	if err := e.failures.Resolve(ctx, docID); err != nil {
		slog.WarnContext(ctx, "failed to clear failure record", "error", err, "doc_id", docID)
	}
}

// PointID derives a stable point id from the owning document, the chunk's
// position and its text.
func PointID(docID string, seq int, chunk string) string {
	name := docID + "\x00" + strconv.Itoa(seq) + "\x00" + chunk
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

func payloadFor(doc source.Document, c text.Chunk, m FieldMapping, syncedAt string) map[string]any {
	payload := make(map[string]any, 7+len(m.MetadataFields))
	for _, f := range m.MetadataFields {
		if v, ok := doc.Fields[f]; ok && v != nil {
			payload[f] = v
		}
	}
	// base keys win over metadata with the same name
	payload[vector.PayloadDocID] = doc.ID
	payload[vector.PayloadSource] = m.SourceTag
	payload[vector.PayloadSyncedAt] = syncedAt
	payload[vector.PayloadChunkIndex] = c.SequenceIndex
	payload[vector.PayloadContent] = c.Text
	payload[vector.PayloadStartOffset] = c.StartOffset
	payload[vector.PayloadEndOffset] = c.EndOffset
	return payload
}

func sameDimensions(vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	dims := len(vecs[0])
	if dims == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", apperr.ErrProvider)
	}
	for i, v := range vecs[1:] {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", apperr.ErrInput, i+1, len(v), dims)
		}
	}
	return nil
}
