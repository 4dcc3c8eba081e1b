package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecsync/internal/config"
	"vecsync/internal/vector"
)

// wordEmbedder maps a text onto two axes by keyword.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "alpha") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (wordEmbedder) Dimensions() int     { return 2 }
func (wordEmbedder) MaxInputLength() int { return 512 }

type downIndex struct {
	vector.Index
}

func (downIndex) HealthCheck(context.Context) (bool, error) {
	return false, errors.New("connection refused")
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		IndexBackend:     config.IndexMemory,
		FeedBackend:      config.FeedNone,
		Concurrency:      1,
		BatchSize:        10,
		EmbedBatchSize:   8,
		WatchMaxAttempts: 3,
		QueryLogPath:     filepath.Join(t.TempDir(), "query.log"),
	}
}

func newTestApp(t *testing.T, cfg *config.Config, index vector.Index) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a, err := New(context.Background(), cfg, config.DefaultProfile(), db, index, wordEmbedder{})
	require.NoError(t, err)
	return a, mock
}

func TestNew_Health(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		a, _ := newTestApp(t, testConfig(t), vector.NewMemoryIndex())

		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, true, body["index"])
	})

	t.Run("Index Down", func(t *testing.T) {
		a, _ := newTestApp(t, testConfig(t), downIndex{vector.NewMemoryIndex()})

		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}

func TestNew_FeedSelection(t *testing.T) {
	t.Run("None", func(t *testing.T) {
		a, _ := newTestApp(t, testConfig(t), vector.NewMemoryIndex())
		assert.Nil(t, a.Watcher)
		assert.Nil(t, a.Scheduler)
	})

	t.Run("Postgres", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.FeedBackend = config.FeedPostgres
		cfg.ReconcileSchedule = "@every 1h"
		a, _ := newTestApp(t, cfg, vector.NewMemoryIndex())
		require.NotNil(t, a.Watcher)
		require.NotNil(t, a.Scheduler)
		assert.Equal(t, "@every 1h", a.Scheduler.Status().Schedule)

		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/sync/status", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"state":"stopped"`)
	})

	t.Run("NSQ", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.FeedBackend = config.FeedNSQ
		cfg.NSQDHost = "localhost:4150"
		cfg.NSQTopic = config.TopicDocumentChanges
		a, _ := newTestApp(t, cfg, vector.NewMemoryIndex())
		assert.NotNil(t, a.Watcher)
	})

	t.Run("Read Only", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.FeedBackend = config.FeedPostgres
		cfg.ReconcileSchedule = "@every 1h"
		cfg.ReadOnly = true
		a, _ := newTestApp(t, cfg, vector.NewMemoryIndex())
		assert.Nil(t, a.Watcher)
		assert.Nil(t, a.Scheduler)
		assert.True(t, a.Engine.ReadOnly())

		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/sync", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestNew_InvalidSchedule(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	cfg.ReconcileSchedule = "not a schedule"
	_, err = New(context.Background(), cfg, config.DefaultProfile(), db, vector.NewMemoryIndex(), wordEmbedder{})
	assert.Error(t, err)
}

func TestNew_StatsRoute(t *testing.T) {
	index := vector.NewMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []vector.Point{
		{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{vector.PayloadDocID: "doc-1"}},
	}))
	a, mock := newTestApp(t, testConfig(t), index)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM documents`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM failed_documents`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 3, data["documents"])
	assert.EqualValues(t, 1, data["failed_documents"])
	assert.EqualValues(t, 1, data["points"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_SearchRoute(t *testing.T) {
	index := vector.NewMemoryIndex()
	require.NoError(t, index.Upsert(context.Background(), []vector.Point{
		{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{vector.PayloadDocID: "doc-a", vector.PayloadContent: "alpha text"}},
		{ID: "p2", Vector: []float32{0, 1}, Payload: map[string]any{vector.PayloadDocID: "doc-b", vector.PayloadContent: "beta text"}},
	}))
	a, _ := newTestApp(t, testConfig(t), index)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/search", strings.NewReader(`{"text":"alpha","top_k":1,"no_rerank":true}`)))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "doc-a", data[0].(map[string]any)["documentId"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}
