package failure

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, f *Failure) error
	List(ctx context.Context, limit int) ([]Failure, error)
	Get(ctx context.Context, id string) (*Failure, error)
	Delete(ctx context.Context, id string) error
	DeleteByDocument(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts f or, when the document already has a row, replaces its error
// and bumps the retry count.
func (r *PostgresRepo) Save(ctx context.Context, f *Failure) error {
	query := `INSERT INTO failed_documents (document_id, operation, error) VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE SET operation = EXCLUDED.operation, error = EXCLUDED.error, retries = failed_documents.retries + 1
		RETURNING id, retries, created_at`
	return r.db.QueryRowContext(ctx, query, f.DocumentID, string(f.Operation), f.Error).Scan(&f.ID, &f.Retries, &f.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Failure, error) {
	query := `SELECT id, document_id, operation, error, retries, created_at FROM failed_documents ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.Operation, &f.Error, &f.Retries, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Failure, error) {
	f := &Failure{}
	query := `SELECT id, document_id, operation, error, retries, created_at FROM failed_documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.DocumentID, &f.Operation, &f.Error, &f.Retries, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_documents WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_documents WHERE document_id = $1`, docID)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_documents`).Scan(&count)
	return count, err
}
