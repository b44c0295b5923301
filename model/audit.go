package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditOperation is the kind of change an audit record describes.
type AuditOperation string

const (
	AuditOperationAdd    AuditOperation = "add"
	AuditOperationUpdate AuditOperation = "update"
	AuditOperationDelete AuditOperation = "delete"
)

const (
	DefaultAuditLimit         = 100
	MaxAuditLimit             = 1000
	DefaultAuditRetentionDays = 90
	AuditRetentionBatchSize   = 10000
)

func (o AuditOperation) Valid() bool {
	switch o {
	case AuditOperationAdd, AuditOperationUpdate, AuditOperationDelete:
		return true
	}
	return false
}

// AuditEntry records one change of a knowledge entry. PreviousValue is nil
// for adds, NewValue is nil for deletes.
type AuditEntry struct {
	ID            uuid.UUID      `json:"id"`
	EntryID       uuid.UUID      `json:"entry_id"`
	Operation     AuditOperation `json:"operation"`
	PreviousValue *Entry         `json:"previous_value"`
	NewValue      *Entry         `json:"new_value"`
	Timestamp     time.Time      `json:"timestamp"`
	UserContext   Metadata       `json:"user_context"`
}

// AuditTimeRange selects audit records between Start and End, both inclusive.
// An empty Operation matches every operation.
type AuditTimeRange struct {
	Start     time.Time
	End       time.Time
	Operation AuditOperation
}

type AuditMetadata struct {
	Total         int    `json:"total"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type AuditResponse struct {
	Results  []*AuditEntry `json:"results"`
	Metadata AuditMetadata `json:"metadata"`
}

// RetentionResult summarizes an audit retention cleanup.
type RetentionResult struct {
	DeletedCount     int       `json:"deleted_count"`
	RetentionDays    int       `json:"retention_days"`
	CutoffDate       time.Time `json:"cutoff_date"`
	DryRun           bool      `json:"dry_run"`
	DurationMs       int64     `json:"duration_ms"`
	BatchesProcessed int       `json:"batches_processed"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
}
