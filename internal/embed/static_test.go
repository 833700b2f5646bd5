package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderValidation(t *testing.T) {
	_, err := NewStaticEmbedder(0)
	assert.Error(t, err)
	_, err = NewStaticEmbedder(-10)
	assert.Error(t, err)
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e, err := NewStaticEmbedder(128)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 128)

	other, err := e.Embed(ctx, "a completely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, v1, other)
}

func TestStaticEmbedderUnitLength(t *testing.T) {
	e, err := NewStaticEmbedder(64)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "normalize me please")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedderEmptyInput(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 32), vec)
}

func TestStaticEmbedderBatch(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)
	ctx := context.Background()

	texts := []string{"first", "second", "third"}
	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Batch output matches single-text output.
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func TestStaticEmbedderClosed(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
}
