package source_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecsync/internal/source"
)

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := source.NewPostgresStore(db)
	now := time.Now().UTC()
	query := regexp.QuoteMeta("SELECT id, data, updated_at FROM documents WHERE id = $1")

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}).
				AddRow("doc-1", []byte(`{"body":"hello","price":3}`), now))

		doc, err := store.Get(context.Background(), "doc-1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "doc-1", doc.ID)
		assert.Equal(t, "hello", doc.Fields["body"])
		assert.Equal(t, 3.0, doc.Fields["price"])
		assert.Equal(t, now, doc.UpdatedAt)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("gone").
			WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}))

		doc, err := store.Get(context.Background(), "gone")
		assert.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("Bad JSON", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("doc-2").
			WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}).
				AddRow("doc-2", []byte(`{not json`), now))

		_, err := store.Get(context.Background(), "doc-2")
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Scan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := source.NewPostgresStore(db)
	now := time.Now().UTC()

	t.Run("All", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, data, updated_at FROM documents WHERE id > $1 ORDER BY id LIMIT $2")).
			WithArgs("", 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}).
				AddRow("a", []byte(`{"body":"x"}`), now).
				AddRow("b", nil, now))

		docs, err := store.Scan(context.Background(), "", 2, false)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "a", docs[0].ID)
		assert.NotNil(t, docs[1].Fields)
	})

	t.Run("Only Missing", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id > $1 AND embedded_at IS NULL ORDER BY id LIMIT $2")).
			WithArgs("b", 10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}))

		docs, err := store.Scan(context.Background(), "b", 10, true)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAndMark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := source.NewPostgresStore(db)
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET embedded_at = $2 WHERE id = $1")).
		WithArgs("doc-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, store.MarkEmbedded(context.Background(), "doc-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
