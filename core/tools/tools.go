// Package tools implements the knowledge base tools served by the dispatcher.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/pipeline"
	"github.com/siherrmann/knowledge/core/pool"
	"github.com/siherrmann/knowledge/core/related"
	"github.com/siherrmann/knowledge/core/retrieval"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

// Tool names.
const (
	NameSearch            = "kb_search"
	NameGetRelated        = "kb_get_related"
	NameGet               = "kb_get"
	NameList              = "kb_list"
	NameAdd               = "kb_add"
	NameUpdate            = "kb_update"
	NameDelete            = "kb_delete"
	NameStats             = "kb_stats"
	NameHealth            = "kb_health"
	NameRebuildEmbeddings = "kb_rebuild_embeddings"
	NameBulkImport        = "kb_bulk_import"
	NameAuditByEntry      = "kb_audit_by_entry"
	NameAuditQuery        = "kb_audit_query"
	NameAuditRetention    = "kb_audit_retention_cleanup"
)

// MaxRetentionDays bounds the audit retention period to ten years.
const MaxRetentionDays = 3650

// EntryStore is what the tools need from the backing store.
type EntryStore interface {
	retrieval.Store
	related.Store
	InsertEntry(ctx context.Context, entry *model.Entry, embedding []float32) error
	UpdateEntry(ctx context.Context, entry *model.Entry, embedding []float32, clearEmbedding bool) error
	UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	SelectEntry(ctx context.Context, id uuid.UUID) (*model.Entry, error)
	SelectAllEntries(ctx context.Context, filter model.EntryFilter, limit int, offset int) ([]*model.Entry, error)
	SelectEntriesForEmbedding(ctx context.Context, force bool, ids []uuid.UUID, after *uuid.UUID, limit int) ([]*model.Entry, error)
	SelectStats(ctx context.Context) (*model.Stats, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// Deps are the collaborators shared by all tools.
type Deps struct {
	// Store binds the backing store to the pooled connection of a call.
	Store  func(q helper.Querier) EntryStore
	Engine *retrieval.Engine
	// Embed may be nil, entries are then stored without embedding.
	Embed          pipeline.EmbedFunc
	EmbeddingModel string
	// Audit binds the audit log to the pooled connection of a call. The
	// audit tools fail without it.
	Audit func(q helper.Querier) AuditStore
	// AuditEnabled records adds, updates and deletes in the audit log.
	AuditEnabled bool
	PoolStats    func() pool.Stats
	StartTime    time.Time
	Version      string
}

// All returns every tool in the order they are listed to clients.
func All(deps *Deps) []*dispatch.Tool {
	return []*dispatch.Tool{
		searchTool(deps),
		getRelatedTool(deps),
		getTool(deps),
		listTool(deps),
		addTool(deps),
		updateTool(deps),
		deleteTool(deps),
		statsTool(deps),
		healthTool(deps),
		rebuildEmbeddingsTool(deps),
		bulkImportTool(deps),
		auditByEntryTool(deps),
		auditQueryTool(deps),
		auditRetentionTool(deps),
	}
}

func (d *Deps) store(call *dispatch.CallContext) EntryStore {
	return d.Store(call.Conn())
}

// validatable is an input that checks itself and fills in defaults.
type validatable[T any] interface {
	*T
	Validate() error
}

// decode unmarshals and validates the arguments of a call.
func decode[T any, PT validatable[T]](args json.RawMessage) (*T, error) {
	input := new(T)
	if err := json.Unmarshal(args, input); err != nil {
		return nil, model.NewValidationError("", "invalid arguments: %v", err)
	}
	if err := PT(input).Validate(); err != nil {
		return nil, err
	}
	return input, nil
}

func validator[T any, PT validatable[T]]() func(json.RawMessage) error {
	return func(args json.RawMessage) error {
		_, err := decode[T, PT](args)
		return err
	}
}

// noInput is the argument object of tools without parameters.
type noInput struct{}

func (noInput) Validate() error { return nil }

func parseID(field string, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, model.NewValidationError(field, "must be a valid uuid")
	}
	return id, nil
}

func parseOptionalRole(field string, value string) (model.Role, error) {
	if value == "" {
		return "", nil
	}
	role, err := model.ParseRole(value)
	if err != nil {
		return "", model.NewValidationError(field, "%s", err.Error())
	}
	return role, nil
}

func parseOptionalEntryType(field string, value string) (model.EntryType, error) {
	if value == "" {
		return "", nil
	}
	entryType := model.EntryType(value)
	if !entryType.Valid() {
		return "", model.NewValidationError(field, "unknown entry type %q", value)
	}
	return entryType, nil
}

// embedContent returns the embedding of content or nil when no embedder is
// configured or embedding fails. Only context errors are returned.
func (d *Deps) embedContent(ctx context.Context, call *dispatch.CallContext, content string) ([]float32, error) {
	if d.Embed == nil {
		return nil, nil
	}
	embedding, err := d.Embed(ctx, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		call.Logger.Warn("embedding failed, storing entry without embedding", "error", err.Error())
		return nil, nil
	}
	return embedding, nil
}
