package tools

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

// memStore is an in-memory EntryStore with the ordering rules of the database.
type memStore struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]*model.Entry
	embeddings map[uuid.UUID][]float32
	clock      time.Time

	pingLatency time.Duration
	pingErr     error
	insertErr   error
	boundTo     []helper.Querier
}

func newMemStore() *memStore {
	return &memStore{
		entries:    map[uuid.UUID]*model.Entry{},
		embeddings: map[uuid.UUID][]float32{},
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) bind(q helper.Querier) EntryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundTo = append(s.boundTo, q)
	return s
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) copyOf(entry *model.Entry) *model.Entry {
	c := *entry
	c.Tags = slices.Clone(entry.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	_, c.HasEmbedding = s.embeddings[entry.ID]
	return &c
}

func matches(entry *model.Entry, filter model.EntryFilter) bool {
	if filter.Role != "" && entry.Role != filter.Role && entry.Role != model.RoleAll {
		return false
	}
	if filter.EntryType != "" && entry.EntryType != filter.EntryType {
		return false
	}
	if len(filter.Tags) > 0 && !slices.ContainsFunc(entry.Tags, func(tag string) bool { return slices.Contains(filter.Tags, tag) }) {
		return false
	}
	return true
}

func (s *memStore) InsertEntry(ctx context.Context, entry *model.Entry, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	now := s.tick()
	entry.ID = uuid.New()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	stored := *entry
	stored.Tags = slices.Clone(entry.Tags)
	s.entries[entry.ID] = &stored
	if len(embedding) > 0 {
		s.embeddings[entry.ID] = embedding
	}
	*entry = *s.copyOf(&stored)
	return nil
}

func (s *memStore) UpdateEntry(ctx context.Context, entry *model.Entry, embedding []float32, clearEmbedding bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[entry.ID]
	if !ok {
		return model.ErrNotFound
	}
	stored := *entry
	stored.Tags = slices.Clone(entry.Tags)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.tick()
	s.entries[entry.ID] = &stored
	if len(embedding) > 0 {
		s.embeddings[entry.ID] = embedding
	} else if clearEmbedding {
		delete(s.embeddings, entry.ID)
	}
	*entry = *s.copyOf(&stored)
	return nil
}

func (s *memStore) UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return model.ErrNotFound
	}
	s.embeddings[id] = embedding
	return nil
}

func (s *memStore) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.entries, id)
	delete(s.embeddings, id)
	return nil
}

func (s *memStore) SelectEntry(ctx context.Context, id uuid.UUID) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.copyOf(entry), nil
}

func (s *memStore) SelectEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []*model.Entry{}
	for _, id := range ids {
		if entry, ok := s.entries[id]; ok {
			entries = append(entries, s.copyOf(entry))
		}
	}
	return entries, nil
}

func (s *memStore) sorted(less func(a, b *model.Entry) bool) []*model.Entry {
	entries := make([]*model.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	return entries
}

func (s *memStore) SelectAllEntries(ctx context.Context, filter model.EntryFilter, limit int, offset int) ([]*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []*model.Entry{}
	newestFirst := s.sorted(func(a, b *model.Entry) bool { return a.CreatedAt.After(b.CreatedAt) })
	for _, entry := range newestFirst {
		if !matches(entry, filter) {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		entries = append(entries, s.copyOf(entry))
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *memStore) rank(score func(entry *model.Entry) (float64, bool), filter model.EntryFilter, limit int) []model.ScoredEntry {
	scored := []model.ScoredEntry{}
	for _, entry := range s.entries {
		value, ok := score(entry)
		if !ok || !matches(entry, filter) {
			continue
		}
		scored = append(scored, model.ScoredEntry{ID: entry.ID, Score: value, UpdatedAt: entry.UpdatedAt})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].UpdatedAt.Equal(scored[j].UpdatedAt) {
			return scored[i].UpdatedAt.After(scored[j].UpdatedAt)
		}
		return scored[i].ID.String() < scored[j].ID.String()
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}

func (s *memStore) SelectEntriesByKeyword(ctx context.Context, query string, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	words := strings.Fields(strings.ToLower(query))
	return s.rank(func(entry *model.Entry) (float64, bool) {
		content := strings.ToLower(entry.Content)
		hits := 0
		for _, word := range words {
			if strings.Contains(content, word) {
				hits++
			}
		}
		return float64(hits) / float64(len(words)), hits > 0
	}, filter, limit), nil
}

func (s *memStore) SelectEntriesBySimilarity(ctx context.Context, embedding []float32, filter model.EntryFilter, limit int) ([]model.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rank(func(entry *model.Entry) (float64, bool) {
		stored, ok := s.embeddings[entry.ID]
		if !ok {
			return 0, false
		}
		var dot float64
		for i := range min(len(stored), len(embedding)) {
			dot += float64(stored[i] * embedding[i])
		}
		return dot, true
	}, filter, limit), nil
}

func (s *memStore) SelectEntryTags(ctx context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return slices.Clone(entry.Tags), nil
}

func (s *memStore) SelectTagOverlapCandidates(ctx context.Context, tags []string, excludeID uuid.UUID, minOverlap int, limit int) ([]*model.RelatedCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := []*model.RelatedCandidate{}
	for _, entry := range s.sorted(func(a, b *model.Entry) bool { return a.UpdatedAt.After(b.UpdatedAt) }) {
		if entry.ID == excludeID {
			continue
		}
		overlap := 0
		for _, tag := range model.NormalizeTags(entry.Tags) {
			if slices.Contains(tags, tag) {
				overlap++
			}
		}
		if overlap >= minOverlap {
			candidates = append(candidates, &model.RelatedCandidate{Entry: s.copyOf(entry), TagOverlapCount: overlap})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].TagOverlapCount > candidates[j].TagOverlapCount })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *memStore) SelectEntriesForEmbedding(ctx context.Context, force bool, ids []uuid.UUID, after *uuid.UUID, limit int) ([]*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := []*model.Entry{}
	for _, entry := range s.sorted(func(a, b *model.Entry) bool { return a.ID.String() < b.ID.String() }) {
		if _, embedded := s.embeddings[entry.ID]; embedded && !force {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, entry.ID) {
			continue
		}
		if after != nil && entry.ID.String() <= after.String() {
			continue
		}
		entries = append(entries, &model.Entry{ID: entry.ID, Content: entry.Content})
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *memStore) SelectStats(ctx context.Context) (*model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.Stats{ByRole: map[string]int{}, ByEntryType: map[string]int{}, TopTags: []model.TagCount{}}
	tagCounts := map[string]int{}
	for _, entry := range s.entries {
		stats.TotalEntries++
		stats.ByRole[string(entry.Role)]++
		stats.ByEntryType[string(entry.EntryType)]++
		if _, ok := s.embeddings[entry.ID]; !ok {
			stats.MissingEmbeddings++
		}
		for _, tag := range entry.Tags {
			tagCounts[tag]++
		}
	}
	for tag, count := range tagCounts {
		stats.TopTags = append(stats.TopTags, model.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(stats.TopTags, func(i, j int) bool {
		if stats.TopTags[i].Count != stats.TopTags[j].Count {
			return stats.TopTags[i].Count > stats.TopTags[j].Count
		}
		return stats.TopTags[i].Tag < stats.TopTags[j].Tag
	})
	if len(stats.TopTags) > 10 {
		stats.TopTags = stats.TopTags[:10]
	}
	return stats, nil
}

func (s *memStore) Ping(ctx context.Context) (time.Duration, error) {
	if s.pingErr != nil {
		return 0, s.pingErr
	}
	if s.pingLatency > 0 {
		return s.pingLatency, nil
	}
	return time.Millisecond, nil
}

type fakeConn struct{}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (c *fakeConn) Close() error {
	return nil
}

// memAudit is an in-memory AuditStore.
type memAudit struct {
	mu        sync.Mutex
	records   []*model.AuditEntry
	insertErr error
	deleteErr error
	batches   int
}

func (a *memAudit) bind(q helper.Querier) AuditStore {
	return a
}

func (a *memAudit) add(record *model.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *memAudit) InsertAuditEntry(ctx context.Context, record *model.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.insertErr != nil {
		return a.insertErr
	}
	record.ID = uuid.New()
	record.Timestamp = time.Now()
	stored := *record
	a.records = append(a.records, &stored)
	return nil
}

func page(records []*model.AuditEntry, limit int, offset int) []*model.AuditEntry {
	if offset >= len(records) {
		return []*model.AuditEntry{}
	}
	return records[offset:min(offset+limit, len(records))]
}

func (a *memAudit) SelectAuditByEntry(ctx context.Context, entryID uuid.UUID, limit int, offset int) ([]*model.AuditEntry, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	matching := []*model.AuditEntry{}
	for _, record := range a.records {
		if record.EntryID == entryID {
			matching = append(matching, record)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Timestamp.Before(matching[j].Timestamp) })
	return page(matching, limit, offset), len(matching), nil
}

func (a *memAudit) SelectAuditByTimeRange(ctx context.Context, timeRange model.AuditTimeRange, limit int, offset int) ([]*model.AuditEntry, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	matching := []*model.AuditEntry{}
	for _, record := range a.records {
		if record.Timestamp.Before(timeRange.Start) || record.Timestamp.After(timeRange.End) {
			continue
		}
		if timeRange.Operation != "" && record.Operation != timeRange.Operation {
			continue
		}
		matching = append(matching, record)
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Timestamp.After(matching[j].Timestamp) })
	return page(matching, limit, offset), len(matching), nil
}

func (a *memAudit) CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, record := range a.records {
		if record.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (a *memAudit) DeleteAuditBatch(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return 0, a.deleteErr
	}
	a.batches++
	kept := a.records[:0]
	deleted := 0
	for _, record := range a.records {
		if deleted < batchSize && record.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	a.records = kept
	return deleted, nil
}
