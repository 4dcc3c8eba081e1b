package failure_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vecsync/features/failure"
	"vecsync/internal/apperr"
	"vecsync/internal/reconcile"
	"vecsync/internal/source"
)

func TestHandler_List(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, 5).Return(nil, nil)
		h := failure.NewHandler(failure.NewService(repo, nil, mapping))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/failures?limit=5", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, []any{}, body["data"])
	})

	t.Run("Bad Limit", func(t *testing.T) {
		h := failure.NewHandler(failure.NewService(new(MockRepo), nil, mapping))
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/failures?limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Repo Error", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything, failure.DefaultListLimit).Return(nil, errors.New("db down"))
		h := failure.NewHandler(failure.NewService(repo, nil, mapping))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/failures", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*MockRepo, *MockReconciler)
		status int
	}{
		{
			name: "Success",
			setup: func(r *MockRepo, e *MockReconciler) {
				r.On("Get", mock.Anything, "f-1").Return(&failure.Failure{ID: "f-1", DocumentID: "doc-1", Operation: source.OpUpdate}, nil)
				e.On("ReconcileByID", mock.Anything, "doc-1", mapping).Return(reconcile.Outcome{DocumentID: "doc-1", Points: 2}, nil)
				r.On("Delete", mock.Anything, "f-1").Return(nil)
			},
			status: http.StatusOK,
		},
		{
			name: "Not Found",
			setup: func(r *MockRepo, e *MockReconciler) {
				r.On("Get", mock.Anything, "f-1").Return(nil, sql.ErrNoRows)
			},
			status: http.StatusNotFound,
		},
		{
			name: "Provider Error",
			setup: func(r *MockRepo, e *MockReconciler) {
				r.On("Get", mock.Anything, "f-1").Return(&failure.Failure{ID: "f-1", DocumentID: "doc-1", Operation: source.OpUpdate}, nil)
				e.On("ReconcileByID", mock.Anything, "doc-1", mapping).Return(reconcile.Outcome{}, apperr.ErrProvider)
				r.On("Save", mock.Anything, mock.Anything).Return(nil)
			},
			status: http.StatusBadGateway,
		},
		{
			name: "Read Only",
			setup: func(r *MockRepo, e *MockReconciler) {
				e.readOnly = true
			},
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			engine := new(MockReconciler)
			tt.setup(repo, engine)
			h := failure.NewHandler(failure.NewService(repo, engine, mapping))

			req := httptest.NewRequest("POST", "/failures/f-1/retry", nil)
			req.SetPathValue("id", "f-1")
			w := httptest.NewRecorder()
			h.Retry(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}
