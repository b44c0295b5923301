package fusion

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/model"
)

// ScoreEpsilon is the distance below which two fused scores count as equal
// and the recency tie-break decides.
const ScoreEpsilon = 1e-12

// CalculateRRFScore returns the weighted reciprocal rank fusion score
// semanticWeight/(k+semanticRank) + keywordWeight/(k+keywordRank).
// A rank <= 0 marks the source as absent and contributes nothing.
func CalculateRRFScore(semanticRank, keywordRank int, config model.FusionConfig) float64 {
	score := 0.0
	if semanticRank > 0 {
		score += config.SemanticWeight / float64(config.K+semanticRank)
	}
	if keywordRank > 0 {
		score += config.KeywordWeight / float64(config.K+keywordRank)
	}
	return score
}

// Fuse merges a semantic and a keyword ranking into one list without
// duplicate ids. Results are ordered by fused score, then by the most recent
// UpdatedAt, then by first appearance (semantic list first). The only error
// is a *model.ValidationError for an invalid config or a non-positive rank.
func Fuse(semantic, keyword []model.ScoredEntry, config model.FusionConfig) ([]model.FusedEntry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := checkPositiveRanks("semantic", semantic); err != nil {
		return nil, err
	}
	if err := checkPositiveRanks("keyword", keyword); err != nil {
		return nil, err
	}

	entries := make(map[uuid.UUID]*model.FusedEntry, len(semantic)+len(keyword))
	order := make([]uuid.UUID, 0, len(semantic)+len(keyword))

	for _, s := range semantic {
		if _, ok := entries[s.ID]; ok {
			continue
		}
		score, rank := s.Score, s.Rank
		entries[s.ID] = &model.FusedEntry{
			ID:            s.ID,
			SemanticScore: &score,
			SemanticRank:  &rank,
			UpdatedAt:     s.UpdatedAt,
		}
		order = append(order, s.ID)
	}

	for _, k := range keyword {
		entry, ok := entries[k.ID]
		if !ok {
			entry = &model.FusedEntry{ID: k.ID, UpdatedAt: k.UpdatedAt}
			entries[k.ID] = entry
			order = append(order, k.ID)
		} else if entry.KeywordRank != nil {
			continue
		}
		score, rank := k.Score, k.Rank
		entry.KeywordScore = &score
		entry.KeywordRank = &rank
		if k.UpdatedAt.After(entry.UpdatedAt) {
			entry.UpdatedAt = k.UpdatedAt
		}
	}

	fused := make([]model.FusedEntry, 0, len(order))
	for _, id := range order {
		entry := entries[id]
		entry.FusedScore = CalculateRRFScore(rankOf(entry.SemanticRank), rankOf(entry.KeywordRank), config)
		fused = append(fused, *entry)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if math.Abs(a.FusedScore-b.FusedScore) > ScoreEpsilon {
			return a.FusedScore > b.FusedScore
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})

	return fused, nil
}

// KeywordOnlyRanking is the degraded ranking used when no semantic list is
// available. It is Fuse with an empty semantic list.
func KeywordOnlyRanking(keyword []model.ScoredEntry, config model.FusionConfig) ([]model.FusedEntry, error) {
	return Fuse(nil, keyword, config)
}

// RelevanceScore maps a fused score onto [0,1] relative to the best score
// reachable with the sources in use.
func RelevanceScore(fusedScore float64, config model.FusionConfig, keywordOnly bool) float64 {
	best := CalculateRRFScore(1, 1, config)
	if keywordOnly {
		best = CalculateRRFScore(0, 1, config)
	}
	if best <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, fusedScore/best))
}

func rankOf(rank *int) int {
	if rank == nil {
		return 0
	}
	return *rank
}

func checkPositiveRanks(source string, list []model.ScoredEntry) error {
	for _, entry := range list {
		if entry.Rank <= 0 {
			return model.NewValidationError(source+"_rank", "rank of %s must be positive, got %d", entry.ID, entry.Rank)
		}
	}
	return nil
}
