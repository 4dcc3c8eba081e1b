package failure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vecsync/internal/reconcile"
	"vecsync/internal/source"
)

const (
	DefaultListLimit = 100
	retryTimeout     = 2 * time.Minute
)

// Reconciler is the part of the sync engine a retry needs.
type Reconciler interface {
	ReconcileByID(ctx context.Context, docID string, m reconcile.FieldMapping) (reconcile.Outcome, error)
	DeleteDocument(ctx context.Context, docID string) error
	ReadOnly() bool
}

type Service struct {
	repo    Repository
	engine  Reconciler
	mapping reconcile.FieldMapping
}

func NewService(repo Repository, engine Reconciler, mapping reconcile.FieldMapping) *Service {
	return &Service{repo: repo, engine: engine, mapping: mapping}
}

// SetReconciler attaches the engine after construction; the engine itself
// records into this service.
func (s *Service) SetReconciler(engine Reconciler) {
	s.engine = engine
}

// Record implements reconcile.FailureRecorder.
func (s *Service) Record(ctx context.Context, docID string, op source.Operation, cause error) error {
	f := &Failure{DocumentID: docID, Operation: op, Error: cause.Error()}
	if err := s.repo.Save(ctx, f); err != nil {
		return fmt.Errorf("save failure: %w", err)
	}
	return nil
}

// Resolve implements reconcile.FailureRecorder. It drops the document's row
// after any successful reconcile.
func (s *Service) Resolve(ctx context.Context, docID string) error {
	if err := s.repo.DeleteByDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete failure: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, limit)
}

// Retry replays the failed operation against the current source snapshot and
// clears the row on success. A failed retry stays in the ledger. Read-only
// engines reject retries before the row is touched.
func (s *Service) Retry(ctx context.Context, id string) (reconcile.Outcome, error) {
	if s.engine.ReadOnly() {
		return reconcile.Outcome{}, reconcile.ErrReadOnly
	}
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return reconcile.Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, retryTimeout)
	defer cancel()

	var out reconcile.Outcome
	if f.Operation == source.OpDelete {
		out = reconcile.Outcome{DocumentID: f.DocumentID, Skipped: true}
		err = s.engine.DeleteDocument(ctx, f.DocumentID)
	} else {
		out, err = s.engine.ReconcileByID(ctx, f.DocumentID, s.mapping)
	}
	if err != nil {
		if rerr := s.Record(ctx, f.DocumentID, f.Operation, err); rerr != nil {
			slog.ErrorContext(ctx, "failed to update failure record", "error", rerr, "doc_id", f.DocumentID)
		}
		return out, err
	}

	slog.InfoContext(ctx, "failed document reconciled", "doc_id", f.DocumentID, "retries", f.Retries)
	return out, s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
