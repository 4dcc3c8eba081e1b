package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecsync/internal/apperr"
)

func seedIndex(t *testing.T) *MemoryIndex {
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(context.Background(), []Point{
		{ID: "a0", Vector: []float32{1, 0}, Payload: map[string]any{PayloadDocID: "a", PayloadChunkIndex: 0, "price": 10.0}},
		{ID: "a1", Vector: []float32{0.8, 0.6}, Payload: map[string]any{PayloadDocID: "a", PayloadChunkIndex: 1, "price": 20.0}},
		{ID: "b0", Vector: []float32{0, 1}, Payload: map[string]any{PayloadDocID: "b", PayloadChunkIndex: 0, "price": 30.0}},
	}))
	return idx
}

func TestMemoryIndex_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("Ordered By Score", func(t *testing.T) {
		idx := seedIndex(t)
		hits, err := idx.Search(ctx, SearchRequest{Vector: []float32{1, 0}, Limit: 2, WithPayload: true})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a0", hits[0].ID)
		assert.Equal(t, "a1", hits[1].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Nil(t, hits[0].Vector)
		assert.Equal(t, "a", hits[0].Payload[PayloadDocID])
	})

	t.Run("Threshold And Filter", func(t *testing.T) {
		idx := seedIndex(t)
		threshold := float32(0.5)
		gte := 15.0
		hits, err := idx.Search(ctx, SearchRequest{
			Vector:         []float32{1, 0},
			ScoreThreshold: &threshold,
			Filter:         &Filter{Must: []Condition{{Field: "price", Range: &Range{GTE: &gte}}}},
			WithVector:     true,
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "a1", hits[0].ID)
		assert.Equal(t, []float32{0.8, 0.6}, hits[0].Vector)
	})

	t.Run("Invalid Filter", func(t *testing.T) {
		idx := seedIndex(t)
		_, err := idx.Search(ctx, SearchRequest{Vector: []float32{1, 0}, Filter: &Filter{Must: []Condition{{Field: "x"}}}})
		assert.True(t, apperr.IsInput(err))
	})
}

func TestMemoryIndex_Deletes(t *testing.T) {
	ctx := context.Background()

	t.Run("By Doc ID", func(t *testing.T) {
		idx := seedIndex(t)
		require.NoError(t, idx.DeleteByDocID(ctx, "a"))
		n, _ := idx.CountPoints(ctx)
		assert.Equal(t, 1, n)
		assert.Equal(t, "b0", idx.Points()[0].ID)
	})

	t.Run("Unknown Doc Is Not An Error", func(t *testing.T) {
		idx := seedIndex(t)
		assert.NoError(t, idx.DeleteByDocID(ctx, "zzz"))
		n, _ := idx.CountPoints(ctx)
		assert.Equal(t, 3, n)
	})

	t.Run("By IDs", func(t *testing.T) {
		idx := seedIndex(t)
		require.NoError(t, idx.DeleteByIDs(ctx, []string{"a1", "missing"}))
		n, _ := idx.CountPoints(ctx)
		assert.Equal(t, 2, n)
	})

	t.Run("Empty Filter Rejected", func(t *testing.T) {
		idx := seedIndex(t)
		assert.True(t, apperr.IsInput(idx.DeleteByFilter(ctx, &Filter{})))
	})
}

func TestMemoryIndex_Upsert(t *testing.T) {
	ctx := context.Background()
	idx := seedIndex(t)

	t.Run("Overwrites Same ID", func(t *testing.T) {
		require.NoError(t, idx.Upsert(ctx, []Point{{ID: "a0", Vector: []float32{0, 1}, Payload: map[string]any{PayloadDocID: "a"}}}))
		n, _ := idx.CountPoints(ctx)
		assert.Equal(t, 3, n)
		assert.Equal(t, []float32{0, 1}, idx.Points()[0].Vector)
	})

	t.Run("Dimension Mismatch", func(t *testing.T) {
		err := idx.Upsert(ctx, []Point{{ID: "c0", Vector: []float32{1, 2, 3}}})
		assert.True(t, apperr.IsInput(err))
		n, _ := idx.CountPoints(ctx)
		assert.Equal(t, 3, n)
	})
}
