package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultHNSWConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestNewHNSWIndexValidation(t *testing.T) {
	_, err := NewHNSWIndex(HNSWConfig{Dimensions: 0})
	assert.Error(t, err)

	_, err = NewHNSWIndex(HNSWConfig{Dimensions: -3})
	assert.Error(t, err)
}

func TestHNSWAddAndSearch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	err := idx.Add(ctx,
		[]int64{1, 2, 3},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0.9, 0.1, 0, 0},
		})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-5)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, int64(3), hits[1].ID)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	err := idx.Add(ctx, []int64{1}, [][]float32{{1, 0}})
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWLazyDelete(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]int64{1, 2},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))

	require.NoError(t, idx.Delete(ctx, []int64{1}))
	assert.Equal(t, 1, idx.Count())

	// The deleted node never surfaces in results.
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, int64(1), h.ID)
	}

	// Deleting an unknown id is a no-op.
	require.NoError(t, idx.Delete(ctx, []int64{99}))
}

func TestHNSWReplaceExistingID(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []int64{1}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add(ctx, []int64{1}, [][]float32{{0, 1, 0, 0}}))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-5)
}

func TestHNSWSearchEdgeCases(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	// Empty graph.
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Add(ctx, []int64{1}, [][]float32{{1, 0, 0, 0}}))

	// Non-positive k.
	hits, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWClosed(t *testing.T) {
	idx, err := NewHNSWIndex(DefaultHNSWConfig(4))
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close()) // idempotent

	ctx := context.Background()
	assert.Error(t, idx.Add(ctx, []int64{1}, [][]float32{{1, 0, 0, 0}}))
	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0, 0, 0}, zero)
}
