package failure_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vecsync/features/failure"
	"vecsync/internal/reconcile"
	"vecsync/internal/source"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, f *failure.Failure) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockRepo) List(ctx context.Context, limit int) ([]failure.Failure, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]failure.Failure), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*failure.Failure, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*failure.Failure), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) DeleteByDocument(ctx context.Context, docID string) error {
	return m.Called(ctx, docID).Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
	readOnly bool
}

func (m *MockReconciler) ReadOnly() bool { return m.readOnly }

func (m *MockReconciler) ReconcileByID(ctx context.Context, docID string, mapping reconcile.FieldMapping) (reconcile.Outcome, error) {
	args := m.Called(ctx, docID, mapping)
	return args.Get(0).(reconcile.Outcome), args.Error(1)
}

func (m *MockReconciler) DeleteDocument(ctx context.Context, docID string) error {
	return m.Called(ctx, docID).Error(0)
}

var mapping = reconcile.FieldMapping{TextField: "body"}

func TestService_Record(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(f *failure.Failure) bool {
		return f.DocumentID == "doc-1" && f.Operation == source.OpInsert && f.Error == "quota exceeded"
	})).Return(nil)

	svc := failure.NewService(repo, nil, mapping)
	require.NoError(t, svc.Record(context.Background(), "doc-1", source.OpInsert, errors.New("quota exceeded")))
	repo.AssertExpectations(t)
}

func TestService_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("Reconciles And Clears", func(t *testing.T) {
		repo := new(MockRepo)
		engine := new(MockReconciler)
		repo.On("Get", mock.Anything, "f-1").Return(&failure.Failure{ID: "f-1", DocumentID: "doc-1", Operation: source.OpUpdate}, nil)
		engine.On("ReconcileByID", mock.Anything, "doc-1", mapping).Return(reconcile.Outcome{DocumentID: "doc-1", Points: 3}, nil)
		repo.On("Delete", mock.Anything, "f-1").Return(nil)

		out, err := failure.NewService(repo, engine, mapping).Retry(ctx, "f-1")
		require.NoError(t, err)
		assert.Equal(t, 3, out.Points)
		repo.AssertExpectations(t)
		engine.AssertExpectations(t)
	})

	t.Run("Delete Operation", func(t *testing.T) {
		repo := new(MockRepo)
		engine := new(MockReconciler)
		repo.On("Get", mock.Anything, "f-2").Return(&failure.Failure{ID: "f-2", DocumentID: "doc-2", Operation: source.OpDelete}, nil)
		engine.On("DeleteDocument", mock.Anything, "doc-2").Return(nil)
		repo.On("Delete", mock.Anything, "f-2").Return(nil)

		svc := failure.NewService(repo, nil, mapping)
		svc.SetReconciler(engine)
		_, err := svc.Retry(ctx, "f-2")
		require.NoError(t, err)
		engine.AssertNotCalled(t, "ReconcileByID", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failure Stays In Ledger", func(t *testing.T) {
		repo := new(MockRepo)
		engine := new(MockReconciler)
		repo.On("Get", mock.Anything, "f-3").Return(&failure.Failure{ID: "f-3", DocumentID: "doc-3", Operation: source.OpInsert}, nil)
		engine.On("ReconcileByID", mock.Anything, "doc-3", mapping).Return(reconcile.Outcome{DocumentID: "doc-3"}, errors.New("still broken"))
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)

		_, err := failure.NewService(repo, engine, mapping).Retry(ctx, "f-3")
		assert.EqualError(t, err, "still broken")
		repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		repo.AssertCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("Read Only", func(t *testing.T) {
		repo := new(MockRepo)
		engine := &MockReconciler{readOnly: true}

		_, err := failure.NewService(repo, engine, mapping).Retry(ctx, "f-4")
		assert.ErrorIs(t, err, reconcile.ErrReadOnly)
		repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		engine.AssertNotCalled(t, "ReconcileByID", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Not Found", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("Get", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

		_, err := failure.NewService(repo, new(MockReconciler), mapping).Retry(ctx, "nope")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestService_Resolve(t *testing.T) {
	repo := new(MockRepo)
	repo.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil).Once()
	repo.On("DeleteByDocument", mock.Anything, "doc-2").Return(errors.New("connection reset")).Once()

	svc := failure.NewService(repo, nil, mapping)
	require.NoError(t, svc.Resolve(context.Background(), "doc-1"))
	assert.ErrorContains(t, svc.Resolve(context.Background(), "doc-2"), "connection reset")
	repo.AssertExpectations(t)
}

func TestService_ListDefaultLimit(t *testing.T) {
	repo := new(MockRepo)
	repo.On("List", mock.Anything, failure.DefaultListLimit).Return([]failure.Failure{{ID: "f-1"}}, nil)

	list, err := failure.NewService(repo, nil, mapping).List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
