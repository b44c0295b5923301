package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/related"
	"github.com/siherrmann/knowledge/model"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

type getInput struct {
	ID             string `json:"id"`
	IncludeRelated bool   `json:"include_related,omitempty"`
	RelatedLimit   int    `json:"related_limit,omitempty"`
}

func (in *getInput) Validate() error {
	if _, err := parseID("id", in.ID); err != nil {
		return err
	}
	if in.RelatedLimit < 0 || in.RelatedLimit > related.MaxLimit {
		return model.NewValidationError("related_limit", "must be between 1 and %d", related.MaxLimit)
	}
	return nil
}

// GetResult is an entry together with its related entries when requested.
type GetResult struct {
	*model.Entry
	Related *model.RelatedResponse `json:"related,omitempty"`
}

func getTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameGet,
		Description: `Retrieve a knowledge entry by its ID.
Returns null if the entry does not exist. With include_related the related entries
are attached under "related".`,
		InputSchema: objectSchema(map[string]interface{}{
			"id":              stringProperty("UUID of the entry"),
			"include_related": booleanProperty("Attach entries related by shared tags"),
			"related_limit":   integerProperty("Maximum number of related entries, default 5", 1, related.MaxLimit),
		}, "id"),
		Timeout:   3 * time.Second,
		UsesStore: true,
		Validate:  validator[getInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[getInput](args)
			if err != nil {
				return nil, err
			}
			id, _ := uuid.Parse(input.ID)

			entry, err := deps.store(call).SelectEntry(ctx, id)
			if errors.Is(err, model.ErrNotFound) {
				return nil, nil
			} else if err != nil {
				return nil, err
			}
			if !input.IncludeRelated {
				return entry, nil
			}

			value, err := call.Invoke(ctx, NameGetRelated, getRelatedInput{EntryID: input.ID, Limit: input.RelatedLimit})
			if err != nil {
				return nil, err
			}
			relatedResponse, _ := value.(*model.RelatedResponse)

			return &GetResult{Entry: entry, Related: relatedResponse}, nil
		},
	}
}

type listInput struct {
	Role      string   `json:"role,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	EntryType string   `json:"entry_type,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`

	filter model.EntryFilter
}

func (in *listInput) Validate() error {
	role, err := parseOptionalRole("role", in.Role)
	if err != nil {
		return err
	}
	entryType, err := parseOptionalEntryType("entry_type", in.EntryType)
	if err != nil {
		return err
	}
	if err := model.ValidateTags(in.Tags); err != nil {
		return err
	}
	if in.Limit == 0 {
		in.Limit = DefaultListLimit
	}
	if in.Limit < 1 || in.Limit > MaxListLimit {
		return model.NewValidationError("limit", "must be between 1 and %d", MaxListLimit)
	}
	if in.Offset < 0 {
		return model.NewValidationError("offset", "must not be negative")
	}
	in.filter = model.EntryFilter{Role: role, Tags: model.NormalizeTags(in.Tags), EntryType: entryType}
	return nil
}

func listTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        NameList,
		Description: "List knowledge entries, newest first. Tag filters match entries with any of the tags.",
		InputSchema: objectSchema(map[string]interface{}{
			"role":       roleProperty("Only entries for this role and entries for all roles"),
			"tags":       tagsProperty("Entries with any of these tags"),
			"entry_type": entryTypeProperty("Only entries of this type"),
			"limit":      integerProperty("Maximum number of results, default 10", 1, MaxListLimit),
			"offset":     map[string]interface{}{"type": "integer", "description": "Number of entries to skip", "minimum": 0},
		}),
		Timeout:   3 * time.Second,
		UsesStore: true,
		Validate:  validator[listInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[listInput](args)
			if err != nil {
				return nil, err
			}
			return deps.store(call).SelectAllEntries(ctx, input.filter, input.Limit, input.Offset)
		},
	}
}

type addInput struct {
	Content   string         `json:"content"`
	Role      string         `json:"role"`
	EntryType string         `json:"entry_type,omitempty"`
	StoryID   *string        `json:"story_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Verified  bool           `json:"verified,omitempty"`
	Metadata  model.Metadata `json:"metadata,omitempty"`
}

func (in *addInput) Validate() error {
	if err := model.ValidateContent(in.Content); err != nil {
		return err
	}
	if in.Role == "" {
		return model.NewValidationError("role", "is required")
	}
	if _, err := parseOptionalRole("role", in.Role); err != nil {
		return err
	}
	if _, err := parseOptionalEntryType("entry_type", in.EntryType); err != nil {
		return err
	}
	return model.ValidateTags(in.Tags)
}

func (in *addInput) entry() *model.Entry {
	role, _ := model.ParseRole(in.Role)
	entryType := model.EntryType(in.EntryType)
	if entryType == "" {
		entryType = model.EntryTypeNote
	}
	return &model.Entry{
		Content:   in.Content,
		Role:      role,
		EntryType: entryType,
		StoryID:   in.StoryID,
		Tags:      model.NormalizeTags(in.Tags),
		Verified:  in.Verified,
		Metadata:  in.Metadata,
	}
}

// AddResult reports a stored entry.
type AddResult struct {
	ID                 uuid.UUID `json:"id"`
	EmbeddingGenerated bool      `json:"embedding_generated"`
}

func addTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameAdd,
		Description: `Add a new knowledge entry.
An embedding is generated for semantic search when an embedder is configured.`,
		InputSchema: objectSchema(map[string]interface{}{
			"content":    map[string]interface{}{"type": "string", "description": "Knowledge content", "minLength": 1, "maxLength": model.MaxContentLength},
			"role":       roleProperty("Role this knowledge is relevant for"),
			"entry_type": entryTypeProperty("Kind of entry, default note"),
			"story_id":   stringProperty("Story the entry originates from"),
			"tags":       tagsProperty("Tags for categorization"),
			"verified":   booleanProperty("Whether the entry was verified"),
			"metadata":   map[string]interface{}{"type": "object", "description": "Free-form metadata"},
		}, "content", "role"),
		Timeout:   15 * time.Second,
		UsesStore: true,
		Validate:  validator[addInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[addInput](args)
			if err != nil {
				return nil, err
			}

			entry := input.entry()
			embedding, err := deps.embedContent(ctx, call, entry.Content)
			if err != nil {
				return nil, err
			}

			err = deps.store(call).InsertEntry(ctx, entry, embedding)
			if err != nil {
				return nil, err
			}
			call.Logger.Info("entry added", "entry_id", entry.ID.String(), "embedding_generated", entry.HasEmbedding)
			deps.recordAudit(ctx, call, model.AuditOperationAdd, entry.ID, nil, entry)

			return &AddResult{ID: entry.ID, EmbeddingGenerated: entry.HasEmbedding}, nil
		},
	}
}

type updateInput struct {
	ID        string         `json:"id"`
	Content   *string        `json:"content,omitempty"`
	Role      *string        `json:"role,omitempty"`
	EntryType *string        `json:"entry_type,omitempty"`
	StoryID   *string        `json:"story_id,omitempty"`
	Verified  *bool          `json:"verified,omitempty"`
	Metadata  model.Metadata `json:"metadata,omitempty"`
	// Tags stays raw to tell an absent field from an explicit null.
	Tags json.RawMessage `json:"tags,omitempty"`

	tags []string
}

func (in *updateInput) Validate() error {
	if _, err := parseID("id", in.ID); err != nil {
		return err
	}
	if in.Content == nil && in.Role == nil && in.EntryType == nil && in.StoryID == nil &&
		in.Verified == nil && in.Metadata == nil && in.Tags == nil {
		return model.NewValidationError("", "at least one field to update is required")
	}
	if in.Content != nil {
		if err := model.ValidateContent(*in.Content); err != nil {
			return err
		}
	}
	if in.Role != nil {
		if _, err := model.ParseRole(*in.Role); err != nil {
			return model.NewValidationError("role", "%s", err.Error())
		}
	}
	if in.EntryType != nil {
		if !model.EntryType(*in.EntryType).Valid() {
			return model.NewValidationError("entry_type", "unknown entry type %q", *in.EntryType)
		}
	}
	if in.Tags != nil && !bytes.Equal(bytes.TrimSpace(in.Tags), []byte("null")) {
		var tags []string
		if err := json.Unmarshal(in.Tags, &tags); err != nil {
			return model.NewValidationError("tags", "must be an array of strings or null")
		}
		if err := model.ValidateTags(tags); err != nil {
			return err
		}
		in.tags = model.NormalizeTags(tags)
	}
	return nil
}

// apply merges the update into entry and reports whether the content changed.
func (in *updateInput) apply(entry *model.Entry) bool {
	contentChanged := false
	if in.Content != nil && *in.Content != entry.Content {
		entry.Content = *in.Content
		contentChanged = true
	}
	if in.Role != nil {
		entry.Role, _ = model.ParseRole(*in.Role)
	}
	if in.EntryType != nil {
		entry.EntryType = model.EntryType(*in.EntryType)
	}
	if in.StoryID != nil {
		entry.StoryID = in.StoryID
		if strings.TrimSpace(*in.StoryID) == "" {
			entry.StoryID = nil
		}
	}
	if in.Verified != nil {
		entry.Verified = *in.Verified
	}
	if in.Metadata != nil {
		entry.Metadata = in.Metadata
	}
	if in.Tags != nil {
		entry.Tags = in.tags
	}
	return contentChanged
}

// UpdateResult is the updated entry.
type UpdateResult struct {
	*model.Entry
	EmbeddingRegenerated bool `json:"embedding_regenerated"`
}

func updateTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameUpdate,
		Description: `Update an existing knowledge entry. Absent fields stay unchanged, tags null clears the tags.
Changed content gets a new embedding.`,
		InputSchema: objectSchema(map[string]interface{}{
			"id":         stringProperty("UUID of the entry"),
			"content":    map[string]interface{}{"type": "string", "description": "New content", "minLength": 1, "maxLength": model.MaxContentLength},
			"role":       roleProperty("New role"),
			"entry_type": entryTypeProperty("New entry type"),
			"story_id":   stringProperty("New story id, empty clears it"),
			"tags":       map[string]interface{}{"type": []string{"array", "null"}, "description": "New tags, null clears them", "items": map[string]interface{}{"type": "string"}},
			"verified":   booleanProperty("New verification state"),
			"metadata":   map[string]interface{}{"type": "object", "description": "Replacement metadata"},
		}, "id"),
		Timeout:   15 * time.Second,
		UsesStore: true,
		Validate:  validator[updateInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[updateInput](args)
			if err != nil {
				return nil, err
			}
			id, _ := uuid.Parse(input.ID)
			store := deps.store(call)

			entry, err := store.SelectEntry(ctx, id)
			if err != nil {
				return nil, err
			}

			before := *entry
			var embedding []float32
			contentChanged := input.apply(entry)
			if contentChanged {
				embedding, err = deps.embedContent(ctx, call, entry.Content)
				if err != nil {
					return nil, err
				}
			}

			// A stale embedding is dropped when no new one could be generated.
			err = store.UpdateEntry(ctx, entry, embedding, contentChanged && embedding == nil)
			if err != nil {
				return nil, err
			}
			call.Logger.Info("entry updated", "entry_id", entry.ID.String(), "content_changed", contentChanged)
			deps.recordAudit(ctx, call, model.AuditOperationUpdate, entry.ID, &before, entry)

			return &UpdateResult{Entry: entry, EmbeddingRegenerated: embedding != nil}, nil
		},
	}
}

type deleteInput struct {
	ID string `json:"id"`
}

func (in *deleteInput) Validate() error {
	_, err := parseID("id", in.ID)
	return err
}

// DeleteResult reports whether an entry was removed. Deleting a missing entry succeeds.
type DeleteResult struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
}

func deleteTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        NameDelete,
		Description: "Delete a knowledge entry by its ID. Deleting a missing entry succeeds.",
		InputSchema: objectSchema(map[string]interface{}{
			"id": stringProperty("UUID of the entry"),
		}, "id"),
		Timeout:      15 * time.Second,
		RequiredRole: model.RolePM,
		UsesStore:    true,
		Validate:     validator[deleteInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[deleteInput](args)
			if err != nil {
				return nil, err
			}
			id, _ := uuid.Parse(input.ID)
			store := deps.store(call)

			existing, err := store.SelectEntry(ctx, id)
			if errors.Is(err, model.ErrNotFound) {
				return &DeleteResult{ID: id, Deleted: false}, nil
			} else if err != nil {
				return nil, err
			}

			err = store.DeleteEntry(ctx, id)
			if errors.Is(err, model.ErrNotFound) {
				return &DeleteResult{ID: id, Deleted: false}, nil
			} else if err != nil {
				return nil, err
			}
			call.Logger.Info("entry deleted", "entry_id", id.String())
			deps.recordAudit(ctx, call, model.AuditOperationDelete, id, existing, nil)

			return &DeleteResult{ID: id, Deleted: true}, nil
		},
	}
}
