package pipeline

import (
	"context"
	"testing"

	"github.com/siherrmann/knowledge/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEmbedder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
	}

	embedder, closeEmbedder, err := DefaultEmbedder(helper.DefaultEmbeddingModel)
	require.NoError(t, err)

	t.Run("Generate embedding for text", func(t *testing.T) {
		embedding, err := embedder(context.Background(), "Order rewrites before redirects in vercel.json.")

		require.NoError(t, err)
		assert.Len(t, embedding, helper.DefaultEmbeddingDim)

		hasNonZero := false
		for _, val := range embedding {
			if val != 0 {
				hasNonZero = true
				break
			}
		}
		assert.True(t, hasNonZero, "Embedding should contain non-zero values")
	})

	t.Run("Same text produces same embedding", func(t *testing.T) {
		first, err := embedder(context.Background(), "Deterministic embedding test")
		require.NoError(t, err)
		second, err := embedder(context.Background(), "Deterministic embedding test")
		require.NoError(t, err)

		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.InDelta(t, first[i], second[i], 0.0001)
		}
	})

	t.Run("Closed embedder fails", func(t *testing.T) {
		require.NoError(t, closeEmbedder())
		require.NoError(t, closeEmbedder(), "Expected a second close to be a no-op")

		_, err := embedder(context.Background(), "after close")
		assert.ErrorIs(t, err, ErrEmbedderClosed)
	})
}
