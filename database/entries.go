package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
	loadSql "github.com/siherrmann/knowledge/sql"
)

// TopTagsLimit is the number of tags reported in the store statistics.
const TopTagsLimit = 10

// EntriesDBHandlerFunctions defines the interface for knowledge entry database operations.
type EntriesDBHandlerFunctions interface {
	InsertEntry(ctx context.Context, entry *model.Entry, embedding []float32) error
	UpdateEntry(ctx context.Context, entry *model.Entry, embedding []float32, clearEmbedding bool) error
	UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	SelectEntry(ctx context.Context, id uuid.UUID) (*model.Entry, error)
	SelectEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Entry, error)
	SelectAllEntries(ctx context.Context, filter model.EntryFilter, limit int, offset int) ([]*model.Entry, error)
	SelectEntriesByKeyword(ctx context.Context, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error)
	SelectEntriesBySimilarity(ctx context.Context, embedding []float32, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error)
	SelectEntryTags(ctx context.Context, id uuid.UUID) ([]string, error)
	SelectTagOverlapCandidates(ctx context.Context, tags []string, excludeID uuid.UUID, minOverlap int, limit int) ([]*model.RelatedCandidate, error)
	SelectEntriesForEmbedding(ctx context.Context, force bool, ids []uuid.UUID, after *uuid.UUID, limit int) ([]*model.Entry, error)
	SelectStats(ctx context.Context) (*model.Stats, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// EntriesDBHandler handles knowledge entry database operations.
// Queries run on the bound querier, which defaults to the shared *sql.DB.
type EntriesDBHandler struct {
	db *helper.Database
	q  helper.Querier
}

// NewEntriesDBHandler creates a new entries database handler.
// It loads the entry SQL functions and creates the table with its indexes.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntriesDBHandler(db *helper.Database, embeddingDim int, force bool) (*EntriesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim < 1 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	entriesDbHandler := &EntriesDBHandler{
		db: db,
		q:  db.Instance,
	}

	err := loadSql.LoadEntriesSql(entriesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entries sql", err)
	}

	err = entriesDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntriesDBHandler")

	return entriesDbHandler, nil
}

// CreateTable creates the 'knowledge_entries' table in the database.
// If the table already exists, it does not create it again.
func (h *EntriesDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_knowledge_entries($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing knowledge_entries table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table knowledge_entries")

	return nil
}

// With returns a handler running its queries on q, usually a leased *sql.Conn.
func (h *EntriesDBHandler) With(q helper.Querier) *EntriesDBHandler {
	return &EntriesDBHandler{db: h.db, q: q}
}

// InsertEntry inserts a new entry and fills in the generated fields.
// A nil embedding stores the entry without one.
func (h *EntriesDBHandler) InsertEntry(ctx context.Context, entry *model.Entry, embedding []float32) error {
	row := h.q.QueryRowContext(ctx,
		`SELECT * FROM insert_entry($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Content,
		string(entry.Role),
		string(entry.EntryType),
		entry.StoryID,
		nullableTags(entry.Tags),
		entry.Verified,
		entry.Metadata,
		nullableVector(embedding),
	)

	err := scanEntry(row, entry)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// UpdateEntry overwrites the stored fields of entry.ID with the values of entry.
// A non-nil embedding replaces the stored one, clearEmbedding drops it otherwise.
func (h *EntriesDBHandler) UpdateEntry(ctx context.Context, entry *model.Entry, embedding []float32, clearEmbedding bool) error {
	row := h.q.QueryRowContext(ctx,
		`SELECT * FROM update_entry($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.Content,
		string(entry.Role),
		string(entry.EntryType),
		entry.StoryID,
		nullableTags(entry.Tags),
		entry.Verified,
		entry.Metadata,
		nullableVector(embedding),
		clearEmbedding,
	)

	err := scanEntry(row, entry)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	} else if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// UpdateEntryEmbedding stores a new embedding for an entry.
func (h *EntriesDBHandler) UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	var updated bool
	err := h.q.QueryRowContext(ctx,
		`SELECT update_entry_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	).Scan(&updated)
	if err != nil {
		return helper.NewError("update embedding", err)
	}
	if !updated {
		return model.ErrNotFound
	}

	return nil
}

// DeleteEntry deletes an entry by id.
func (h *EntriesDBHandler) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	var deleted bool
	err := h.q.QueryRowContext(ctx, `SELECT delete_entry($1)`, id).Scan(&deleted)
	if err != nil {
		return helper.NewError("delete", err)
	}
	if !deleted {
		return model.ErrNotFound
	}

	return nil
}

// SelectEntry returns a single entry or model.ErrNotFound.
func (h *EntriesDBHandler) SelectEntry(ctx context.Context, id uuid.UUID) (*model.Entry, error) {
	row := h.q.QueryRowContext(ctx, `SELECT * FROM select_entry($1)`, id)

	entry := &model.Entry{}
	err := scanEntry(row, entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	} else if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entry, nil
}

// SelectEntriesByIDs returns the existing entries among ids in no particular order.
func (h *EntriesDBHandler) SelectEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Entry, error) {
	if len(ids) == 0 {
		return []*model.Entry{}, nil
	}

	rows, err := h.q.QueryContext(ctx, `SELECT * FROM select_entries_by_ids($1)`, uuidArray(ids))
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SelectAllEntries lists entries matching filter, newest first.
func (h *EntriesDBHandler) SelectAllEntries(ctx context.Context, filter model.EntryFilter, limit int, offset int) ([]*model.Entry, error) {
	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_all_entries($1, $2, $3, $4, $5)`,
		nullableString(string(filter.Role)),
		nullableTags(filter.Tags),
		nullableString(string(filter.EntryType)),
		limit,
		offset,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SelectEntriesByKeyword ranks entries by full-text relevance to query.
func (h *EntriesDBHandler) SelectEntriesByKeyword(ctx context.Context, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_entries_by_keyword($1, $2, $3, $4, $5)`,
		query,
		nullableString(string(filter.Role)),
		nullableTags(filter.Tags),
		nullableString(string(filter.EntryType)),
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanScoredEntries(rows)
}

// SelectEntriesBySimilarity ranks entries by cosine similarity to embedding.
// Entries without an embedding are never returned.
func (h *EntriesDBHandler) SelectEntriesBySimilarity(ctx context.Context, embedding []float32, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_entries_by_similarity($1, $2, $3, $4, $5)`,
		pgvector.NewVector(embedding),
		nullableString(string(filter.Role)),
		nullableTags(filter.Tags),
		nullableString(string(filter.EntryType)),
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return scanScoredEntries(rows)
}

// SelectEntryTags returns the tags of an entry or model.ErrNotFound.
func (h *EntriesDBHandler) SelectEntryTags(ctx context.Context, id uuid.UUID) ([]string, error) {
	var tags []string
	err := h.q.QueryRowContext(ctx, `SELECT * FROM select_entry_tags($1)`, id).Scan(pq.Array(&tags))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	} else if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return tags, nil
}

// SelectTagOverlapCandidates returns entries other than excludeID sharing at
// least minOverlap distinct tags with tags, ordered by overlap, then recency.
func (h *EntriesDBHandler) SelectTagOverlapCandidates(ctx context.Context, tags []string, excludeID uuid.UUID, minOverlap int, limit int) ([]*model.RelatedCandidate, error) {
	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_tag_overlap_candidates($1, $2, $3, $4)`,
		pq.Array(tags),
		excludeID,
		minOverlap,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	candidates := []*model.RelatedCandidate{}
	for rows.Next() {
		candidate := &model.RelatedCandidate{Entry: &model.Entry{}}
		err := rows.Scan(append(entryDestinations(candidate.Entry), &candidate.TagOverlapCount)...)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", err)
	}

	return candidates, nil
}

// SelectEntriesForEmbedding returns the next batch of entries to embed, ordered
// by id after the given cursor. Only ID and Content are set.
// Without force only entries lacking an embedding are returned.
func (h *EntriesDBHandler) SelectEntriesForEmbedding(ctx context.Context, force bool, ids []uuid.UUID, after *uuid.UUID, limit int) ([]*model.Entry, error) {
	var idsArg any
	if len(ids) > 0 {
		idsArg = uuidArray(ids)
	}
	var afterArg any
	if after != nil {
		afterArg = *after
	}

	rows, err := h.q.QueryContext(ctx,
		`SELECT * FROM select_entries_for_embedding($1, $2, $3, $4)`,
		force,
		idsArg,
		afterArg,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	entries := []*model.Entry{}
	for rows.Next() {
		entry := &model.Entry{}
		if err := rows.Scan(&entry.ID, &entry.Content); err != nil {
			return nil, helper.NewError("scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", err)
	}

	return entries, nil
}

// SelectStats aggregates totals, per role and type counts and the top tags.
func (h *EntriesDBHandler) SelectStats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		ByRole:      map[string]int{},
		ByEntryType: map[string]int{},
		TopTags:     []model.TagCount{},
	}

	err := h.q.QueryRowContext(ctx, `SELECT * FROM select_entry_totals()`).Scan(&stats.TotalEntries, &stats.MissingEmbeddings)
	if err != nil {
		return nil, helper.NewError("select totals", err)
	}

	for column, counts := range map[string]map[string]int{"role": stats.ByRole, "entry_type": stats.ByEntryType} {
		err := h.selectCounts(ctx, column, counts)
		if err != nil {
			return nil, helper.NewError("select counts by "+column, err)
		}
	}

	rows, err := h.q.QueryContext(ctx, `SELECT * FROM select_top_tags($1)`, TopTagsLimit)
	if err != nil {
		return nil, helper.NewError("select top tags", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tagCount model.TagCount
		if err := rows.Scan(&tagCount.Tag, &tagCount.Count); err != nil {
			return nil, helper.NewError("scan", err)
		}
		stats.TopTags = append(stats.TopTags, tagCount)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", err)
	}

	return stats, nil
}

func (h *EntriesDBHandler) selectCounts(ctx context.Context, column string, counts map[string]int) error {
	rows, err := h.q.QueryContext(ctx, `SELECT * FROM select_entry_counts($1)`, column)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return err
		}
		counts[name] = count
	}
	return rows.Err()
}

// Ping runs a trivial query and returns its round trip time.
func (h *EntriesDBHandler) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var one int
	err := h.q.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	if err != nil {
		return 0, helper.NewError("ping", err)
	}
	return time.Since(start), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func entryDestinations(entry *model.Entry) []any {
	return []any{
		&entry.ID,
		&entry.Content,
		&entry.Role,
		&entry.EntryType,
		&entry.StoryID,
		pq.Array(&entry.Tags),
		&entry.Verified,
		&entry.Metadata,
		&entry.HasEmbedding,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	}
}

func scanEntry(row rowScanner, entry *model.Entry) error {
	err := row.Scan(entryDestinations(entry)...)
	if err != nil {
		return err
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*model.Entry, error) {
	entries := []*model.Entry{}
	for rows.Next() {
		entry := &model.Entry{}
		if err := scanEntry(rows, entry); err != nil {
			return nil, helper.NewError("scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", err)
	}

	return entries, nil
}

func scanScoredEntries(rows *sql.Rows) ([]model.ScoredEntry, error) {
	scored := []model.ScoredEntry{}
	for rows.Next() {
		var entry model.ScoredEntry
		if err := rows.Scan(&entry.ID, &entry.Score, &entry.Rank, &entry.UpdatedAt); err != nil {
			return nil, helper.NewError("scan", err)
		}
		scored = append(scored, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", err)
	}

	return scored, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// nullableTags maps an empty tag list to NULL so it matches everything.
func nullableTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	return pq.Array(tags)
}

func nullableVector(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func uuidArray(ids []uuid.UUID) any {
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = id.String()
	}
	return pq.Array(values)
}
