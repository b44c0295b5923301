package model

import (
	"time"

	"github.com/google/uuid"
)

// ScoredEntry is one position of a single-source ranking. Rank is 1-based
// and contiguous within its list.
type ScoredEntry struct {
	ID        uuid.UUID `json:"id"`
	Score     float64   `json:"score"`
	Rank      int       `json:"rank"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FusedEntry is the merged ranking position of an entry that appeared in at
// least one source. A source field is set iff the entry appeared in it.
type FusedEntry struct {
	ID            uuid.UUID `json:"id"`
	SemanticScore *float64  `json:"semantic_score,omitempty"`
	SemanticRank  *int      `json:"semantic_rank,omitempty"`
	KeywordScore  *float64  `json:"keyword_score,omitempty"`
	KeywordRank   *int      `json:"keyword_rank,omitempty"`
	FusedScore    float64   `json:"fused_score"`
	UpdatedAt     time.Time `json:"updated_at"`
}
