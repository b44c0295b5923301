package model

import (
	"time"

	"github.com/google/uuid"
)

// Relationship names how a related entry is connected to its seed.
type Relationship string

const RelationshipTagOverlap Relationship = "tag_overlap"

// RelatedCandidate is an entry sharing tags with a seed, as returned by the store.
type RelatedCandidate struct {
	Entry           *Entry
	TagOverlapCount int
}

type RelatedResult struct {
	ID              uuid.UUID    `json:"id"`
	Content         string       `json:"content"`
	Role            Role         `json:"role"`
	EntryType       EntryType    `json:"entry_type"`
	Tags            []string     `json:"tags"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Relationship    Relationship `json:"relationship"`
	TagOverlapCount int          `json:"tag_overlap_count"`
}

type RelatedMetadata struct {
	// Total is the number of returned results, not the number of candidates.
	Total             int            `json:"total"`
	RelationshipTypes []Relationship `json:"relationship_types"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
}

type RelatedResponse struct {
	Results  []RelatedResult `json:"results"`
	Metadata RelatedMetadata `json:"metadata"`
}

// NewEmptyRelatedResponse is the successful answer for seeds without relations.
func NewEmptyRelatedResponse() *RelatedResponse {
	return &RelatedResponse{
		Results: []RelatedResult{},
		Metadata: RelatedMetadata{
			Total:             0,
			RelationshipTypes: []Relationship{},
		},
	}
}
