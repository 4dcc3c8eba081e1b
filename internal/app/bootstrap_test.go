package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecsync/internal/app"
	"vecsync/internal/config"
	"vecsync/internal/vector"
)

type flakyIndex struct {
	vector.Index
	calls     int
	failUntil int
}

func (f *flakyIndex) EnsureCollection(ctx context.Context, create bool) (bool, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return false, errors.New("schema error")
	}
	return true, nil
}

func TestEnsureCollectionWithRetry(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		idx := &flakyIndex{}
		require.NoError(t, app.EnsureCollectionWithRetry(context.Background(), idx, 1, time.Millisecond))
		assert.Equal(t, 1, idx.calls)
	})

	t.Run("Retries", func(t *testing.T) {
		idx := &flakyIndex{failUntil: 2}
		require.NoError(t, app.EnsureCollectionWithRetry(context.Background(), idx, 5, time.Millisecond))
		assert.Equal(t, 3, idx.calls)
	})

	t.Run("Gives Up", func(t *testing.T) {
		idx := &flakyIndex{failUntil: 10}
		err := app.EnsureCollectionWithRetry(context.Background(), idx, 3, time.Millisecond)
		assert.EqualError(t, err, "schema error")
		assert.Equal(t, 3, idx.calls)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		idx := &flakyIndex{failUntil: 10}
		err := app.EnsureCollectionWithRetry(ctx, idx, 5, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBootstrap_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg, config.DefaultProfile())

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCreateTopic(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		var gotPath, gotTopic string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotTopic = r.URL.Query().Get("topic")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		require.NoError(t, app.CreateTopic(context.Background(), strings.TrimPrefix(srv.URL, "http://"), config.TopicDocumentChanges))
		assert.Equal(t, "/topic/create", gotPath)
		assert.Equal(t, "documents.changes", gotTopic)
	})

	t.Run("Rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		err := app.CreateTopic(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "bad#topic")
		assert.Error(t, err)
	})
}
