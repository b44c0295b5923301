package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entries     map[uuid.UUID]*model.Entry
	keyword     []model.ScoredEntry
	semantic    []model.ScoredEntry
	keywordErr  error
	semanticErr error

	semanticCalls int
	keywordLimit  int
	filter        model.EntryFilter
}

func (s *fakeStore) SelectEntriesByKeyword(ctx context.Context, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	s.keywordLimit = limit
	s.filter = filter
	return s.keyword, s.keywordErr
}

func (s *fakeStore) SelectEntriesBySimilarity(ctx context.Context, embedding []float32, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	s.semanticCalls++
	return s.semantic, s.semanticErr
}

func (s *fakeStore) SelectEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Entry, error) {
	entries := []*model.Entry{}
	for _, id := range ids {
		if entry, ok := s.entries[id]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func newFakeStore(n int) (*fakeStore, []uuid.UUID) {
	store := &fakeStore{entries: map[uuid.UUID]*model.Entry{}}
	ids := make([]uuid.UUID, n)
	now := time.Now()
	for i := range ids {
		ids[i] = uuid.New()
		store.entries[ids[i]] = &model.Entry{
			ID:        ids[i],
			Content:   fmt.Sprintf("entry %d", i),
			Role:      model.RoleAll,
			EntryType: model.EntryTypeNote,
			UpdatedAt: now,
		}
	}
	return store, ids
}

func ranking(ids ...uuid.UUID) []model.ScoredEntry {
	list := make([]model.ScoredEntry, len(ids))
	for i, id := range ids {
		list[i] = model.ScoredEntry{ID: id, Score: 1 - float64(i)*0.1, Rank: i + 1}
	}
	return list
}

func staticEmbedder(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(nil, model.FusionConfig{K: -1})
	assert.Error(t, err)

	engine, err := NewEngine(nil, model.DefaultFusionConfig())
	require.NoError(t, err)
	assert.False(t, engine.HasEmbedder())
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("Hybrid search fuses both rankings", func(t *testing.T) {
		store, ids := newFakeStore(3)
		store.semantic = ranking(ids[0], ids[1])
		store.keyword = ranking(ids[1], ids[2])

		engine, err := NewEngine(staticEmbedder, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes", Limit: 5, Role: "dev"})
		require.NoError(t, err)

		require.Len(t, response.Results, 3)
		assert.Equal(t, ids[1], response.Results[0].ID)
		assert.Equal(t, ids[0], response.Results[1].ID)
		assert.Equal(t, ids[2], response.Results[2].ID)
		assert.False(t, response.Metadata.FallbackMode)
		assert.Equal(t, []string{model.SearchModeSemantic, model.SearchModeKeyword}, response.Metadata.SearchModesUsed)
		assert.Equal(t, 3, response.Metadata.Total)
		assert.Equal(t, 10, store.keywordLimit, "Expected candidate depth of twice the limit")
		assert.Equal(t, model.RoleDev, store.filter.Role)

		require.NotNil(t, response.Results[0].SemanticRank)
		require.NotNil(t, response.Results[0].KeywordRank)
		assert.Nil(t, response.Results[2].SemanticRank)
	})

	t.Run("Missing embedder falls back to keyword ranking", func(t *testing.T) {
		store, ids := newFakeStore(2)
		store.keyword = ranking(ids[1], ids[0])

		engine, err := NewEngine(nil, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		require.NoError(t, err)
		assert.True(t, response.Metadata.FallbackMode)
		assert.NotEmpty(t, response.Metadata.FallbackReason)
		assert.Equal(t, []string{model.SearchModeKeyword}, response.Metadata.SearchModesUsed)
		assert.Equal(t, 0, store.semanticCalls)
		require.Len(t, response.Results, 2)
		assert.Equal(t, ids[1], response.Results[0].ID)
		assert.InDelta(t, 1.0, response.Results[0].RelevanceScore, 1e-12)
	})

	t.Run("Embedding failure falls back to keyword ranking", func(t *testing.T) {
		store, ids := newFakeStore(1)
		store.keyword = ranking(ids[0])

		failing := func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("model unavailable")
		}
		engine, err := NewEngine(failing, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		require.NoError(t, err)
		assert.True(t, response.Metadata.FallbackMode)
		assert.Contains(t, response.Metadata.FallbackReason, "model unavailable")
		assert.Len(t, response.Results, 1)
	})

	t.Run("Semantic store failure falls back to keyword ranking", func(t *testing.T) {
		store, ids := newFakeStore(1)
		store.keyword = ranking(ids[0])
		store.semanticErr = fmt.Errorf("index missing")

		engine, err := NewEngine(staticEmbedder, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		require.NoError(t, err)
		assert.True(t, response.Metadata.FallbackMode)
	})

	t.Run("Expired deadline during embedding is an error", func(t *testing.T) {
		store, ids := newFakeStore(1)
		store.keyword = ranking(ids[0])

		slow := func(ctx context.Context, text string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		engine, err := NewEngine(slow, model.DefaultFusionConfig())
		require.NoError(t, err)

		timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()

		_, err = engine.Search(timeoutCtx, store, &model.SearchRequest{Query: "routes"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Keyword failure is an error", func(t *testing.T) {
		store, _ := newFakeStore(0)
		store.keywordErr = fmt.Errorf("relation does not exist")

		engine, err := NewEngine(staticEmbedder, model.DefaultFusionConfig())
		require.NoError(t, err)

		_, err = engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "keyword search")
	})

	t.Run("Invalid request is a validation error", func(t *testing.T) {
		engine, err := NewEngine(nil, model.DefaultFusionConfig())
		require.NoError(t, err)

		_, err = engine.Search(ctx, &fakeStore{}, &model.SearchRequest{Query: ""})
		var validationErr *model.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})

	t.Run("Malformed store ranking is a validation error", func(t *testing.T) {
		store, ids := newFakeStore(2)
		store.keyword = []model.ScoredEntry{{ID: ids[0], Score: 1, Rank: 2}}

		engine, err := NewEngine(nil, model.DefaultFusionConfig())
		require.NoError(t, err)

		_, err = engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		var validationErr *model.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})

	t.Run("Limit and min confidence trim the results", func(t *testing.T) {
		store, ids := newFakeStore(4)
		store.semantic = ranking(ids[0], ids[1], ids[2], ids[3])
		store.keyword = ranking(ids[0])

		engine, err := NewEngine(staticEmbedder, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, response.Results, 2)

		// Only the entry found by both sources reaches a relevance above 0.7.
		response, err = engine.Search(ctx, store, &model.SearchRequest{Query: "routes", MinConfidence: 0.75})
		require.NoError(t, err)
		require.Len(t, response.Results, 1)
		assert.Equal(t, ids[0], response.Results[0].ID)
	})

	t.Run("Entries deleted before hydration are skipped", func(t *testing.T) {
		store, ids := newFakeStore(2)
		store.keyword = ranking(ids[0], ids[1])
		delete(store.entries, ids[0])

		engine, err := NewEngine(nil, model.DefaultFusionConfig())
		require.NoError(t, err)

		response, err := engine.Search(ctx, store, &model.SearchRequest{Query: "routes"})
		require.NoError(t, err)
		require.Len(t, response.Results, 1)
		assert.Equal(t, ids[1], response.Results[0].ID)
	})
}
