package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/related"
	"github.com/siherrmann/knowledge/model"
)

func searchTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameSearch,
		Description: `Search the knowledge base with hybrid semantic and keyword search.
Both rankings are merged with reciprocal rank fusion. Without a usable embedder the
search falls back to keyword ranking, check metadata.fallback_mode to detect it.`,
		InputSchema: objectSchema(map[string]interface{}{
			"query":          map[string]interface{}{"type": "string", "description": "Natural language search query", "minLength": 1, "maxLength": model.MaxQueryLength},
			"role":           roleProperty("Only entries for this role and entries for all roles"),
			"tags":           tagsProperty("Entries with any of these tags"),
			"entry_type":     entryTypeProperty("Only entries of this type"),
			"limit":          integerProperty("Maximum number of results, default 10", 1, model.MaxSearchLimit),
			"min_confidence": map[string]interface{}{"type": "number", "description": "Minimum relevance between 0 and 1", "minimum": 0, "maximum": 1},
		}, "query"),
		Timeout:   10 * time.Second,
		UsesStore: true,
		Validate:  validator[model.SearchRequest](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[model.SearchRequest](args)
			if err != nil {
				return nil, err
			}

			response, err := deps.Engine.Search(ctx, deps.store(call), input)
			if err != nil {
				return nil, err
			}
			if response.Metadata.FallbackMode {
				call.Logger.Warn("search fell back to keyword ranking", "reason", response.Metadata.FallbackReason)
			}
			response.Metadata.CorrelationID = call.CorrelationID

			return response, nil
		},
	}
}

type getRelatedInput struct {
	EntryID string `json:"entry_id"`
	Limit   int    `json:"limit,omitempty"`
}

func (in *getRelatedInput) Validate() error {
	if _, err := parseID("entry_id", in.EntryID); err != nil {
		return err
	}
	if in.Limit < 0 || in.Limit > related.MaxLimit {
		return model.NewValidationError("limit", "must be between 1 and %d", related.MaxLimit)
	}
	return nil
}

func getRelatedTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameGetRelated,
		Description: `Find entries related to a knowledge entry.
Entries sharing at least two tags with the seed entry are related, most shared tags first.
Returns an empty result if the entry does not exist.`,
		InputSchema: objectSchema(map[string]interface{}{
			"entry_id": stringProperty("UUID of the seed entry"),
			"limit":    integerProperty("Maximum number of results, default 5", 1, related.MaxLimit),
		}, "entry_id"),
		Timeout:   5 * time.Second,
		UsesStore: true,
		Validate:  validator[getRelatedInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[getRelatedInput](args)
			if err != nil {
				return nil, err
			}

			response, err := related.Find(ctx, deps.store(call), input.EntryID, input.Limit)
			if err != nil {
				return nil, err
			}
			response.Metadata.CorrelationID = call.CorrelationID

			return response, nil
		},
	}
}
