package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/pool"
	"github.com/siherrmann/knowledge/model"
)

// Health thresholds for the database round trip.
const (
	HealthyLatency  = 50 * time.Millisecond
	DegradedLatency = 200 * time.Millisecond
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 1000
	MaxImportEntries = 1000
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckFail CheckStatus = "fail"
)

func statsTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name:        NameStats,
		Description: "Get knowledge base statistics: totals, counts by role and entry type, the top 10 tags and entries missing an embedding.",
		InputSchema: objectSchema(map[string]interface{}{}),
		Timeout:     5 * time.Second,
		UsesStore:   true,
		Validate:    validator[noInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			return deps.store(call).SelectStats(ctx)
		},
	}
}

type HealthCheck struct {
	Status    CheckStatus `json:"status"`
	LatencyMs *int64      `json:"latency_ms,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type HealthChecks struct {
	Database HealthCheck `json:"db"`
	Embedder HealthCheck `json:"embedder"`
}

type HealthResponse struct {
	Status         HealthStatus `json:"status"`
	Checks         HealthChecks `json:"checks"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	Pool           *pool.Stats  `json:"pool,omitempty"`
	UptimeMs       int64        `json:"uptime_ms"`
	Version        string       `json:"version"`
}

func healthTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameHealth,
		Description: `Get the server health.
The database is healthy below 50ms, degraded below 200ms and unhealthy above or when
unreachable. A missing embedder degrades an otherwise healthy server.`,
		InputSchema: objectSchema(map[string]interface{}{}),
		Timeout:     5 * time.Second,
		UsesStore:   true,
		Validate:    validator[noInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			response := &HealthResponse{
				UptimeMs:       time.Since(deps.StartTime).Milliseconds(),
				Version:        deps.Version,
				EmbeddingModel: deps.EmbeddingModel,
			}
			if deps.PoolStats != nil {
				stats := deps.PoolStats()
				response.Pool = &stats
			}

			latency, err := deps.store(call).Ping(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				call.Logger.Warn("database health check failed", "error", err.Error())
				response.Checks.Database = HealthCheck{Status: CheckFail, Error: "database unreachable"}
			} else {
				latencyMs := latency.Milliseconds()
				response.Checks.Database = HealthCheck{Status: CheckPass, LatencyMs: &latencyMs}
			}

			if deps.Embed != nil {
				response.Checks.Embedder = HealthCheck{Status: CheckPass}
			} else {
				response.Checks.Embedder = HealthCheck{Status: CheckFail, Error: "no embedder configured"}
			}

			response.Status = healthStatus(response.Checks, latency)
			return response, nil
		},
	}
}

func healthStatus(checks HealthChecks, latency time.Duration) HealthStatus {
	switch {
	case checks.Database.Status == CheckFail || latency >= DegradedLatency:
		return StatusUnhealthy
	case latency >= HealthyLatency || checks.Embedder.Status == CheckFail:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

type rebuildInput struct {
	Force     bool     `json:"force,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
	EntryIDs  []string `json:"entry_ids,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`

	ids []uuid.UUID
}

func (in *rebuildInput) Validate() error {
	if in.BatchSize == 0 {
		in.BatchSize = DefaultBatchSize
	}
	if in.BatchSize < 1 || in.BatchSize > MaxBatchSize {
		return model.NewValidationError("batch_size", "must be between 1 and %d", MaxBatchSize)
	}
	in.ids = make([]uuid.UUID, 0, len(in.EntryIDs))
	for i, value := range in.EntryIDs {
		id, err := parseID(fmt.Sprintf("entry_ids[%d]", i), value)
		if err != nil {
			return err
		}
		in.ids = append(in.ids, id)
	}
	return nil
}

type EntryError struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

type RebuildResult struct {
	TotalEntries     int          `json:"total_entries"`
	Rebuilt          int          `json:"rebuilt"`
	Skipped          int          `json:"skipped"`
	Failed           int          `json:"failed"`
	Errors           []EntryError `json:"errors"`
	DurationMs       int64        `json:"duration_ms"`
	EntriesPerSecond float64      `json:"entries_per_second"`
	DryRun           bool         `json:"dry_run"`
}

func rebuildEmbeddingsTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameRebuildEmbeddings,
		Description: `Rebuild entry embeddings in batches.
By default only entries without an embedding are processed, force regenerates all of them.
dry_run only counts the entries that would be processed.`,
		InputSchema: objectSchema(map[string]interface{}{
			"force":      booleanProperty("Regenerate every embedding"),
			"batch_size": integerProperty("Entries per batch, default 50", 1, MaxBatchSize),
			"entry_ids":  map[string]interface{}{"type": "array", "description": "Restrict the rebuild to these entries", "items": map[string]interface{}{"type": "string"}},
			"dry_run":    booleanProperty("Count without rebuilding"),
		}),
		Timeout:      60 * time.Second,
		RequiredRole: model.RolePM,
		UsesStore:    true,
		Validate:     validator[rebuildInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[rebuildInput](args)
			if err != nil {
				return nil, err
			}
			if deps.Embed == nil && !input.DryRun {
				return nil, model.NewValidationError("", "no embedder configured")
			}
			return rebuildEmbeddings(ctx, call, deps, input)
		},
	}
}

func rebuildEmbeddings(ctx context.Context, call *dispatch.CallContext, deps *Deps, input *rebuildInput) (*RebuildResult, error) {
	start := time.Now()
	store := deps.store(call)
	result := &RebuildResult{Errors: []EntryError{}, DryRun: input.DryRun}

	if len(input.ids) > 0 {
		result.TotalEntries = len(input.ids)
	} else {
		stats, err := store.SelectStats(ctx)
		if err != nil {
			return nil, err
		}
		result.TotalEntries = stats.TotalEntries
	}

	processed := 0
	var after *uuid.UUID
	for {
		batch, err := store.SelectEntriesForEmbedding(ctx, input.Force, input.ids, after, input.BatchSize)
		if err != nil {
			return nil, err
		}

		for _, entry := range batch {
			processed++
			if input.DryRun {
				continue
			}

			embedding, err := deps.Embed(ctx, entry.Content)
			if err == nil {
				err = store.UpdateEntryEmbedding(ctx, entry.ID, embedding)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				call.Logger.Warn("rebuild entry failed", "entry_id", entry.ID, "error", err.Error())
				result.Failed++
				result.Errors = append(result.Errors, EntryError{ID: entry.ID, Reason: dispatch.Classify(err).Message})
				continue
			}
			result.Rebuilt++
		}

		if len(batch) < input.BatchSize {
			break
		}
		after = &batch[len(batch)-1].ID
		call.Logger.Debug("embedding batch done", "processed", processed)
	}

	result.Skipped = max(result.TotalEntries-processed, 0)
	elapsed := time.Since(start)
	result.DurationMs = elapsed.Milliseconds()
	if seconds := elapsed.Seconds(); seconds > 0 {
		result.EntriesPerSecond = float64(result.Rebuilt) / seconds
	}
	call.Logger.Info("embeddings rebuilt", "rebuilt", result.Rebuilt, "failed", result.Failed, "skipped", result.Skipped, "dry_run", input.DryRun)

	return result, nil
}

type bulkImportInput struct {
	Entries      []model.ImportEntry `json:"entries"`
	DryRun       bool                `json:"dry_run,omitempty"`
	ValidateOnly bool                `json:"validate_only,omitempty"`
}

func (in *bulkImportInput) Validate() error {
	if in.Entries == nil {
		return model.NewValidationError("entries", "is required")
	}
	if len(in.Entries) > MaxImportEntries {
		return model.NewValidationError("entries", "cannot import more than %d entries per call", MaxImportEntries)
	}
	return nil
}

func importAddInput(e *model.ImportEntry) *addInput {
	input := &addInput{
		Content:   e.Content,
		Role:      e.Role,
		EntryType: e.EntryType,
		Tags:      e.Tags,
	}
	if e.SourceFile != "" {
		input.Metadata = model.Metadata{"source_file": e.SourceFile}
	}
	return input
}

type ImportError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Errors     []ImportError `json:"errors"`
	DurationMs int64         `json:"duration_ms"`
	DryRun     bool          `json:"dry_run"`
}

func bulkImportTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameBulkImport,
		Description: `Import up to 1000 knowledge entries.
Invalid entries are reported by index and don't stop the import. dry_run and
validate_only check the entries without writing them.`,
		InputSchema: objectSchema(map[string]interface{}{
			"entries": map[string]interface{}{
				"type":     "array",
				"maxItems": MaxImportEntries,
				"items": objectSchema(map[string]interface{}{
					"content":     stringProperty("Knowledge content"),
					"role":        roleProperty("Role this knowledge is relevant for"),
					"entry_type":  entryTypeProperty("Kind of entry, default note"),
					"tags":        tagsProperty("Tags for categorization"),
					"source_file": stringProperty("Source file for traceability"),
				}, "content", "role"),
			},
			"dry_run":       booleanProperty("Validate without writing"),
			"validate_only": booleanProperty("Validate without writing or embedding"),
		}, "entries"),
		Timeout:      60 * time.Second,
		RequiredRole: model.RolePM,
		UsesStore:    true,
		Validate:     validator[bulkImportInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[bulkImportInput](args)
			if err != nil {
				return nil, err
			}
			return bulkImport(ctx, call, deps, input)
		},
	}
}

func bulkImport(ctx context.Context, call *dispatch.CallContext, deps *Deps, input *bulkImportInput) (*ImportResult, error) {
	start := time.Now()
	store := deps.store(call)
	dryRun := input.DryRun || input.ValidateOnly
	result := &ImportResult{Total: len(input.Entries), Errors: []ImportError{}, DryRun: dryRun}

	for i := range input.Entries {
		entryInput := importAddInput(&input.Entries[i])
		if err := entryInput.Validate(); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ImportError{Index: i, Reason: err.Error()})
			continue
		}
		if dryRun {
			result.Succeeded++
			continue
		}

		entry := entryInput.entry()
		embedding, err := deps.embedContent(ctx, call, entry.Content)
		if err == nil {
			err = store.InsertEntry(ctx, entry, embedding)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			call.Logger.Warn("import entry failed", "index", i, "error", err.Error())
			result.Failed++
			result.Errors = append(result.Errors, ImportError{Index: i, Reason: dispatch.Classify(err).Message})
			continue
		}
		result.Succeeded++
		deps.recordAudit(ctx, call, model.AuditOperationAdd, entry.ID, nil, entry)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	call.Logger.Info("bulk import done", "total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed, "dry_run", dryRun)

	return result, nil
}
