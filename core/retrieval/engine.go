package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/fusion"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

// candidateFactor widens each single-source ranking beyond the requested
// limit so fusion and confidence filtering have material to work with.
const candidateFactor = 2

// Store is what the engine needs from the backing store. Both rankings
// return 1-based contiguous ranks, best first.
type Store interface {
	SelectEntriesByKeyword(ctx context.Context, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error)
	SelectEntriesBySimilarity(ctx context.Context, embedding []float32, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error)
	SelectEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Entry, error)
}

// Engine runs hybrid searches: a keyword and a semantic ranking merged by
// reciprocal rank fusion. Without a usable embedder it degrades to the
// keyword ranking alone.
type Engine struct {
	embed  pipeline.EmbedFunc
	fusion model.FusionConfig
}

// NewEngine creates an engine. embed may be nil, every search then runs in
// fallback mode.
func NewEngine(embed pipeline.EmbedFunc, config model.FusionConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("fusion config validation", err)
	}
	return &Engine{embed: embed, fusion: config}, nil
}

// HasEmbedder reports whether semantic search is configured.
func (e *Engine) HasEmbedder() bool {
	return e.embed != nil
}

// Search validates req, ranks matching entries and hydrates the top results.
func (e *Engine) Search(ctx context.Context, store Store, req *model.SearchRequest) (*model.SearchResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	filter := req.Filter()
	candidates := req.Limit * candidateFactor

	keyword, err := store.SelectEntriesByKeyword(ctx, req.Query, filter, candidates)
	if err != nil {
		return nil, helper.NewError("keyword search", err)
	}
	if err := fusion.ValidateRanking(model.SearchModeKeyword, keyword); err != nil {
		return nil, err
	}

	semantic, fallbackReason, err := e.semanticRanking(ctx, store, req.Query, filter, candidates)
	if err != nil {
		return nil, err
	}

	var fused []model.FusedEntry
	modes := []string{model.SearchModeKeyword}
	if fallbackReason != "" {
		fused, err = fusion.KeywordOnlyRanking(keyword, e.fusion)
	} else {
		modes = []string{model.SearchModeSemantic, model.SearchModeKeyword}
		fused, err = fusion.Fuse(semantic, keyword, e.fusion)
	}
	if err != nil {
		return nil, err
	}

	selected := make([]model.FusedEntry, 0, req.Limit)
	relevance := make(map[uuid.UUID]float64, req.Limit)
	for _, f := range fused {
		score := fusion.RelevanceScore(f.FusedScore, e.fusion, fallbackReason != "")
		if score < req.MinConfidence {
			continue
		}
		relevance[f.ID] = score
		selected = append(selected, f)
		if len(selected) == req.Limit {
			break
		}
	}

	results, err := hydrate(ctx, store, selected, relevance)
	if err != nil {
		return nil, err
	}

	return &model.SearchResponse{
		Results: results,
		Metadata: model.SearchMetadata{
			Total:           len(results),
			FallbackMode:    fallbackReason != "",
			FallbackReason:  fallbackReason,
			QueryTimeMs:     time.Since(start).Milliseconds(),
			SearchModesUsed: modes,
		},
	}, nil
}

// semanticRanking returns the semantic ranking or the reason why the search
// has to fall back to keywords. Deadline errors are returned as errors.
func (e *Engine) semanticRanking(ctx context.Context, store Store, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, string, error) {
	if e.embed == nil {
		return nil, "no embedder configured", nil
	}

	embedding, err := e.embed(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "embedding failed: " + err.Error(), nil
	}

	semantic, err := store.SelectEntriesBySimilarity(ctx, embedding, filter, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", helper.NewError("semantic search", err)
		}
		return nil, "semantic search failed: " + err.Error(), nil
	}
	if err := fusion.ValidateRanking(model.SearchModeSemantic, semantic); err != nil {
		return nil, "", err
	}
	return semantic, "", nil
}

func hydrate(ctx context.Context, store Store, selected []model.FusedEntry, relevance map[uuid.UUID]float64) ([]model.SearchResult, error) {
	results := make([]model.SearchResult, 0, len(selected))
	if len(selected) == 0 {
		return results, nil
	}

	ids := make([]uuid.UUID, len(selected))
	for i, f := range selected {
		ids[i] = f.ID
	}
	entries, err := store.SelectEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, helper.NewError("hydrate search results", err)
	}
	byID := make(map[uuid.UUID]*model.Entry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	for _, f := range selected {
		entry, ok := byID[f.ID]
		if !ok {
			// Deleted between ranking and hydration.
			continue
		}
		results = append(results, model.SearchResult{
			Entry:          *entry,
			RelevanceScore: relevance[f.ID],
			FusedScore:     f.FusedScore,
			SemanticRank:   f.SemanticRank,
			KeywordRank:    f.KeywordRank,
		})
	}
	return results, nil
}
