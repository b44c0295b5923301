package model

import "strings"

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	MaxQueryLength     = 1000
)

// Search modes reported in the search metadata.
const (
	SearchModeSemantic = "semantic"
	SearchModeKeyword  = "keyword"
)

type SearchRequest struct {
	Query         string    `json:"query"`
	Role          Role      `json:"role,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	EntryType     EntryType `json:"entry_type,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	MinConfidence float64   `json:"min_confidence,omitempty"`
}

// Validate checks the request and fills in defaults.
func (r *SearchRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return NewValidationError("query", "must not be empty")
	}
	if len([]rune(r.Query)) > MaxQueryLength {
		return NewValidationError("query", "must be at most %d characters", MaxQueryLength)
	}
	if r.Role != "" {
		role, err := ParseRole(string(r.Role))
		if err != nil {
			return NewValidationError("role", "%s", err.Error())
		}
		r.Role = role
	}
	if r.EntryType != "" && !r.EntryType.Valid() {
		return NewValidationError("entry_type", "unknown entry type %q", r.EntryType)
	}
	if r.Limit == 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.Limit < 1 || r.Limit > MaxSearchLimit {
		return NewValidationError("limit", "must be between 1 and %d", MaxSearchLimit)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return NewValidationError("min_confidence", "must be between 0 and 1")
	}
	r.Tags = NormalizeTags(r.Tags)
	return nil
}

// Filter returns the store filter described by the request.
func (r *SearchRequest) Filter() EntryFilter {
	return EntryFilter{Role: r.Role, Tags: r.Tags, EntryType: r.EntryType}
}

type SearchResult struct {
	Entry
	RelevanceScore float64 `json:"relevance_score"`
	FusedScore     float64 `json:"fused_score"`
	SemanticRank   *int    `json:"semantic_rank,omitempty"`
	KeywordRank    *int    `json:"keyword_rank,omitempty"`
}

type SearchMetadata struct {
	Total           int      `json:"total"`
	FallbackMode    bool     `json:"fallback_mode"`
	FallbackReason  string   `json:"fallback_reason,omitempty"`
	QueryTimeMs     int64    `json:"query_time_ms"`
	SearchModesUsed []string `json:"search_modes_used"`
	CorrelationID   string   `json:"correlation_id,omitempty"`
}

type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Metadata SearchMetadata `json:"metadata"`
}
