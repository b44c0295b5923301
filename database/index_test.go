package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeIndexType(t *testing.T) {
	handler := initHandler(t)
	ctx := context.Background()

	t.Run("Change index to HNSW with default params", func(t *testing.T) {
		err := handler.ChangeIndexType(ctx, IndexTypeHNSW, map[string]interface{}{})
		assert.NoError(t, err)
	})

	t.Run("Change index to HNSW with custom params", func(t *testing.T) {
		params := map[string]interface{}{
			"m":               32,
			"ef_construction": 128,
		}
		err := handler.ChangeIndexType(ctx, IndexTypeHNSW, params)
		assert.NoError(t, err)
	})

	t.Run("Change index to IVFFlat with custom params", func(t *testing.T) {
		err := handler.ChangeIndexType(ctx, IndexTypeIVFFlat, map[string]interface{}{"lists": 10})
		assert.NoError(t, err)
	})

	t.Run("Change index with unsupported index type", func(t *testing.T) {
		err := handler.ChangeIndexType(ctx, "invalid", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported index type")
	})

	t.Run("Change index back to HNSW for cleanup", func(t *testing.T) {
		err := handler.ChangeIndexType(ctx, IndexTypeHNSW, nil)
		assert.NoError(t, err)
	})
}
