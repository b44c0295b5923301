package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
	loadSql "github.com/siherrmann/knowledge/sql"
)

// AuditDBHandlerFunctions defines the interface for audit log database operations.
type AuditDBHandlerFunctions interface {
	InsertAuditEntry(ctx context.Context, record *model.AuditEntry) error
	SelectAuditByEntry(ctx context.Context, entryID uuid.UUID, limit int, offset int) ([]*model.AuditEntry, int, error)
	SelectAuditByTimeRange(ctx context.Context, timeRange model.AuditTimeRange, limit int, offset int) ([]*model.AuditEntry, int, error)
	CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteAuditBatch(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// AuditDBHandler handles audit log database operations. Records keep their
// entry id after the entry is deleted, the history stays queryable.
type AuditDBHandler struct {
	db *helper.Database
	q  helper.Querier
}

// NewAuditDBHandler creates a new audit log database handler.
// It loads the audit SQL functions and creates the table with its indexes.
// If force is true, it will reload the SQL functions even if they already exist.
func NewAuditDBHandler(db *helper.Database, force bool) (*AuditDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	auditDbHandler := &AuditDBHandler{
		db: db,
		q:  db.Instance,
	}

	err := loadSql.LoadAuditSql(auditDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load audit sql", err)
	}

	err = auditDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized AuditDBHandler")

	return auditDbHandler, nil
}

// CreateTable creates the 'audit_log' table in the database.
// If the table already exists, it does not create it again.
func (h *AuditDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_audit_log();`)
	if err != nil {
		log.Panicf("error initializing audit_log table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table audit_log")

	return nil
}

// With returns a handler running its queries on q, usually a leased *sql.Conn.
func (h *AuditDBHandler) With(q helper.Querier) *AuditDBHandler {
	return &AuditDBHandler{db: h.db, q: q}
}

// InsertAuditEntry stores a record and fills in its id and timestamp.
// Snapshots are stored without embeddings.
func (h *AuditDBHandler) InsertAuditEntry(ctx context.Context, record *model.AuditEntry) error {
	previousValue, err := snapshot(record.PreviousValue)
	if err != nil {
		return helper.NewError("marshal previous value", err)
	}
	newValue, err := snapshot(record.NewValue)
	if err != nil {
		return helper.NewError("marshal new value", err)
	}

	row := h.q.QueryRowContext(ctx,
		`SELECT * FROM insert_audit_entry($1, $2, $3, $4, $5)`,
		record.EntryID,
		string(record.Operation),
		previousValue,
		newValue,
		record.UserContext,
	)

	err = row.Scan(&record.ID, &record.Timestamp)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectAuditByEntry returns the history of an entry, oldest first, and the
// total number of records for it.
func (h *AuditDBHandler) SelectAuditByEntry(ctx context.Context, entryID uuid.UUID, limit int, offset int) ([]*model.AuditEntry, int, error) {
	rows, err := h.q.QueryContext(ctx, `SELECT * FROM select_audit_by_entry($1, $2, $3)`, entryID, limit, offset)
	if err != nil {
		return nil, 0, helper.NewError("select", err)
	}
	defer rows.Close()

	records, total, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 && offset > 0 {
		total, err = h.count(ctx, `SELECT count_audit_by_entry($1)`, entryID)
	}

	return records, total, err
}

// SelectAuditByTimeRange returns the records inside the range, newest first,
// and the total number of matching records.
func (h *AuditDBHandler) SelectAuditByTimeRange(ctx context.Context, timeRange model.AuditTimeRange, limit int, offset int) ([]*model.AuditEntry, int, error) {
	operation := nullableString(string(timeRange.Operation))
	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_audit_by_time_range($1, $2, $3, $4, $5)`,
		timeRange.Start, timeRange.End, operation, limit, offset,
	)
	if err != nil {
		return nil, 0, helper.NewError("select", err)
	}
	defer rows.Close()

	records, total, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 && offset > 0 {
		total, err = h.count(ctx, `SELECT count_audit_by_time_range($1, $2, $3)`, timeRange.Start, timeRange.End, operation)
	}

	return records, total, err
}

// CountAuditBefore counts the records older than cutoff.
func (h *AuditDBHandler) CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return h.count(ctx, `SELECT count_audit_before($1)`, cutoff)
}

// DeleteAuditBatch deletes up to batchSize records older than cutoff and
// returns how many were deleted.
func (h *AuditDBHandler) DeleteAuditBatch(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	var deleted int
	err := h.q.QueryRowContext(ctx, `SELECT delete_audit_batch($1, $2)`, cutoff, batchSize).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("delete", err)
	}
	return deleted, nil
}

func (h *AuditDBHandler) count(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	err := h.q.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, helper.NewError("count", err)
	}
	return count, nil
}

func snapshot(entry *model.Entry) (any, error) {
	if entry == nil {
		return nil, nil
	}
	return json.Marshal(entry)
}

func scanAuditEntries(rows *sql.Rows) ([]*model.AuditEntry, int, error) {
	records := []*model.AuditEntry{}
	total := 0
	for rows.Next() {
		record := &model.AuditEntry{}
		var operation string
		var previousValue, newValue []byte
		err := rows.Scan(
			&record.ID,
			&record.EntryID,
			&operation,
			&previousValue,
			&newValue,
			&record.UserContext,
			&record.Timestamp,
			&total,
		)
		if err != nil {
			return nil, 0, helper.NewError("scan", err)
		}
		record.Operation = model.AuditOperation(operation)
		if record.PreviousValue, err = unmarshalSnapshot(previousValue); err != nil {
			return nil, 0, helper.NewError("unmarshal previous value", err)
		}
		if record.NewValue, err = unmarshalSnapshot(newValue); err != nil {
			return nil, 0, helper.NewError("unmarshal new value", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, helper.NewError("rows", err)
	}

	return records, total, nil
}

func unmarshalSnapshot(data []byte) (*model.Entry, error) {
	if data == nil {
		return nil, nil
	}
	entry := &model.Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
