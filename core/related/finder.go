package related

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

const (
	// MinTagOverlap is the number of shared tags that makes two entries related.
	MinTagOverlap = 2
	DefaultLimit  = 5
	MaxLimit      = 20
)

// Store is what the finder needs from the backing store.
type Store interface {
	// SelectEntryTags returns the tags of an entry, nil for NULL tags and
	// model.ErrNotFound if the entry doesn't exist.
	SelectEntryTags(ctx context.Context, id uuid.UUID) ([]string, error)
	// SelectTagOverlapCandidates returns entries other than excludeID sharing
	// at least minOverlap of tags, best overlap first.
	SelectTagOverlapCandidates(ctx context.Context, tags []string, excludeID uuid.UUID, minOverlap int, limit int) ([]*model.RelatedCandidate, error)
}

// Find returns the entries directly related to the seed entry. A seed that
// doesn't exist or has fewer than two tags yields an empty result, not an error.
func Find(ctx context.Context, store Store, seedID string, limit int) (*model.RelatedResponse, error) {
	id, err := uuid.Parse(seedID)
	if err != nil {
		return nil, model.NewValidationError("entry_id", "must be a valid uuid")
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, model.NewValidationError("limit", "must be between 1 and %d", MaxLimit)
	}

	tags, err := store.SelectEntryTags(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.NewEmptyRelatedResponse(), nil
	} else if err != nil {
		return nil, helper.NewError("select seed tags", err)
	}

	tags = model.NormalizeTags(tags)
	if len(tags) < MinTagOverlap {
		return model.NewEmptyRelatedResponse(), nil
	}

	candidates, err := store.SelectTagOverlapCandidates(ctx, tags, id, MinTagOverlap, limit)
	if err != nil {
		return nil, helper.NewError("select tag overlap candidates", err)
	}

	results := make([]model.RelatedResult, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Entry == nil || c.Entry.ID == id || c.TagOverlapCount < MinTagOverlap {
			continue
		}
		results = append(results, model.RelatedResult{
			ID:              c.Entry.ID,
			Content:         c.Entry.Content,
			Role:            c.Entry.Role,
			EntryType:       c.Entry.EntryType,
			Tags:            c.Entry.Tags,
			CreatedAt:       c.Entry.CreatedAt,
			UpdatedAt:       c.Entry.UpdatedAt,
			Relationship:    model.RelationshipTagOverlap,
			TagOverlapCount: c.TagOverlapCount,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TagOverlapCount > results[j].TagOverlapCount
	})
	if len(results) > limit {
		results = results[:limit]
	}

	response := &model.RelatedResponse{
		Results: results,
		Metadata: model.RelatedMetadata{
			Total:             len(results),
			RelationshipTypes: relationshipTypes(results),
		},
	}
	return response, nil
}

func relationshipTypes(results []model.RelatedResult) []model.Relationship {
	types := []model.Relationship{}
	seen := map[model.Relationship]bool{}
	for _, r := range results {
		if !seen[r.Relationship] {
			seen[r.Relationship] = true
			types = append(types, r.Relationship)
		}
	}
	return types
}
