package fusion

import (
	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/model"
)

// ValidateRanking checks a single-source ranking before it is fused: ranks
// run 1..N in list order, ids are unique and scores don't increase.
func ValidateRanking(source string, list []model.ScoredEntry) error {
	seen := make(map[uuid.UUID]bool, len(list))
	for i, entry := range list {
		if entry.Rank != i+1 {
			return model.NewValidationError(source+"_rank", "expected rank %d at position %d, got %d", i+1, i, entry.Rank)
		}
		if seen[entry.ID] {
			return model.NewValidationError(source+"_id", "duplicate id %s", entry.ID)
		}
		seen[entry.ID] = true
		if i > 0 && entry.Score > list[i-1].Score+ScoreEpsilon {
			return model.NewValidationError(source+"_score", "score at rank %d exceeds score at rank %d", entry.Rank, list[i-1].Rank)
		}
	}
	return nil
}
