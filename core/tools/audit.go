package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/model"
)

// AuditStore is what the audit tools need from the backing store.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, record *model.AuditEntry) error
	SelectAuditByEntry(ctx context.Context, entryID uuid.UUID, limit int, offset int) ([]*model.AuditEntry, int, error)
	SelectAuditByTimeRange(ctx context.Context, timeRange model.AuditTimeRange, limit int, offset int) ([]*model.AuditEntry, int, error)
	CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteAuditBatch(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

func (d *Deps) auditStore(call *dispatch.CallContext) (AuditStore, error) {
	if d.Audit == nil {
		return nil, model.NewValidationError("", "audit log is not configured")
	}
	return d.Audit(call.Conn()), nil
}

// recordAudit writes an audit record on the connection of the call. A failed
// write is logged, the change itself already happened.
func (d *Deps) recordAudit(ctx context.Context, call *dispatch.CallContext, operation model.AuditOperation, entryID uuid.UUID, before, after *model.Entry) {
	if d.Audit == nil || !d.AuditEnabled {
		return
	}
	record := &model.AuditEntry{
		EntryID:       entryID,
		Operation:     operation,
		PreviousValue: before,
		NewValue:      after,
		UserContext: model.Metadata{
			"correlation_id": call.CorrelationID,
			"role":           string(call.Role),
		},
	}
	if n := len(call.CallChain); n > 0 {
		record.UserContext["tool"] = call.CallChain[n-1]
	}
	if err := d.Audit(call.Conn()).InsertAuditEntry(ctx, record); err != nil {
		call.Logger.Warn("audit log write failed", "entry_id", entryID.String(), "operation", string(operation), "error", err.Error())
	}
}

type pageInput struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func (in *pageInput) validate() error {
	if in.Limit == 0 {
		in.Limit = model.DefaultAuditLimit
	}
	if in.Limit < 1 || in.Limit > model.MaxAuditLimit {
		return model.NewValidationError("limit", "must be between 1 and %d", model.MaxAuditLimit)
	}
	if in.Offset < 0 {
		return model.NewValidationError("offset", "must not be negative")
	}
	return nil
}

type auditByEntryInput struct {
	EntryID string `json:"entry_id"`
	pageInput

	id uuid.UUID
}

func (in *auditByEntryInput) Validate() error {
	id, err := parseID("entry_id", in.EntryID)
	if err != nil {
		return err
	}
	in.id = id
	return in.pageInput.validate()
}

func auditByEntryTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameAuditByEntry,
		Description: `Get the full audit history of a knowledge entry, oldest first.
Every add, update and delete is recorded with the entry before and after the change.
The history stays available after the entry was deleted.`,
		InputSchema: objectSchema(map[string]interface{}{
			"entry_id": stringProperty("UUID of the entry"),
			"limit":    integerProperty("Maximum number of records, default 100", 1, model.MaxAuditLimit),
			"offset":   integerProperty("Number of records to skip", 0, 1<<31-1),
		}, "entry_id"),
		Timeout:   5 * time.Second,
		UsesStore: true,
		Validate:  validator[auditByEntryInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[auditByEntryInput](args)
			if err != nil {
				return nil, err
			}
			store, err := deps.auditStore(call)
			if err != nil {
				return nil, err
			}

			records, total, err := store.SelectAuditByEntry(ctx, input.id, input.Limit, input.Offset)
			if err != nil {
				return nil, err
			}
			return auditResponse(call, records, total, &input.pageInput), nil
		},
	}
}

type auditQueryInput struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Operation string `json:"operation,omitempty"`
	pageInput

	timeRange model.AuditTimeRange
}

func (in *auditQueryInput) Validate() error {
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return model.NewValidationError("end_date", "must be after start_date")
	}
	operation := model.AuditOperation(in.Operation)
	if in.Operation != "" && !operation.Valid() {
		return model.NewValidationError("operation", "must be add, update or delete")
	}
	in.timeRange = model.AuditTimeRange{Start: start, End: end, Operation: operation}
	return in.pageInput.validate()
}

// parseDate accepts RFC 3339 timestamps and plain dates, which mean midnight UTC.
func parseDate(field string, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, model.NewValidationError(field, "is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, model.NewValidationError(field, "must be an ISO 8601 date or timestamp")
}

func auditQueryTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameAuditQuery,
		Description: `Query audit records between start_date and end_date (ISO 8601), newest first.
operation narrows the records to add, update or delete.`,
		InputSchema: objectSchema(map[string]interface{}{
			"start_date": stringProperty("Start of the time range"),
			"end_date":   stringProperty("End of the time range, not before start_date"),
			"operation": map[string]interface{}{
				"type":        "string",
				"description": "Only records of this operation",
				"enum":        []string{string(model.AuditOperationAdd), string(model.AuditOperationUpdate), string(model.AuditOperationDelete)},
			},
			"limit":  integerProperty("Maximum number of records, default 100", 1, model.MaxAuditLimit),
			"offset": integerProperty("Number of records to skip", 0, 1<<31-1),
		}, "start_date", "end_date"),
		Timeout:   5 * time.Second,
		UsesStore: true,
		Validate:  validator[auditQueryInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[auditQueryInput](args)
			if err != nil {
				return nil, err
			}
			store, err := deps.auditStore(call)
			if err != nil {
				return nil, err
			}

			records, total, err := store.SelectAuditByTimeRange(ctx, input.timeRange, input.Limit, input.Offset)
			if err != nil {
				return nil, err
			}
			return auditResponse(call, records, total, &input.pageInput), nil
		},
	}
}

func auditResponse(call *dispatch.CallContext, records []*model.AuditEntry, total int, page *pageInput) *model.AuditResponse {
	return &model.AuditResponse{
		Results: records,
		Metadata: model.AuditMetadata{
			Total:         total,
			Limit:         page.Limit,
			Offset:        page.Offset,
			CorrelationID: call.CorrelationID,
		},
	}
}

type auditRetentionInput struct {
	RetentionDays int  `json:"retention_days,omitempty"`
	DryRun        bool `json:"dry_run,omitempty"`
}

func (in *auditRetentionInput) Validate() error {
	if in.RetentionDays == 0 {
		in.RetentionDays = model.DefaultAuditRetentionDays
	}
	if in.RetentionDays < 1 || in.RetentionDays > MaxRetentionDays {
		return model.NewValidationError("retention_days", "must be between 1 and %d", MaxRetentionDays)
	}
	return nil
}

func auditRetentionTool(deps *Deps) *dispatch.Tool {
	return &dispatch.Tool{
		Name: NameAuditRetention,
		Description: `Delete audit records older than retention_days (default 90).
Records are deleted in batches of 10000. dry_run only counts them.`,
		InputSchema: objectSchema(map[string]interface{}{
			"retention_days": integerProperty("Keep records of this many days, default 90", 1, MaxRetentionDays),
			"dry_run":        booleanProperty("Count without deleting"),
		}),
		Timeout:      60 * time.Second,
		RequiredRole: model.RolePM,
		UsesStore:    true,
		Validate:     validator[auditRetentionInput](),
		Handler: func(ctx context.Context, call *dispatch.CallContext, args json.RawMessage) (any, error) {
			input, err := decode[auditRetentionInput](args)
			if err != nil {
				return nil, err
			}
			store, err := deps.auditStore(call)
			if err != nil {
				return nil, err
			}
			return retentionCleanup(ctx, call, store, input)
		},
	}
}

func retentionCleanup(ctx context.Context, call *dispatch.CallContext, store AuditStore, input *auditRetentionInput) (*model.RetentionResult, error) {
	start := time.Now()
	cutoff := start.UTC().AddDate(0, 0, -input.RetentionDays)
	result := &model.RetentionResult{
		RetentionDays: input.RetentionDays,
		CutoffDate:    cutoff,
		DryRun:        input.DryRun,
		CorrelationID: call.CorrelationID,
	}

	if input.DryRun {
		count, err := store.CountAuditBefore(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		result.DeletedCount = count
	} else {
		for {
			deleted, err := store.DeleteAuditBatch(ctx, cutoff, model.AuditRetentionBatchSize)
			if err != nil {
				return nil, err
			}
			result.BatchesProcessed++
			result.DeletedCount += deleted
			if deleted < model.AuditRetentionBatchSize {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	call.Logger.Info("audit retention done", "deleted", result.DeletedCount, "batches", result.BatchesProcessed, "dry_run", input.DryRun)

	return result, nil
}
