package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a knowledge entry.
type EntryType string

const (
	EntryTypeNote        EntryType = "note"
	EntryTypeDecision    EntryType = "decision"
	EntryTypeConstraint  EntryType = "constraint"
	EntryTypeRunbook     EntryType = "runbook"
	EntryTypeLesson      EntryType = "lesson"
	EntryTypeFeedback    EntryType = "feedback"
	EntryTypeCalibration EntryType = "calibration"
)

const (
	MaxContentLength = 30000
	MaxTags          = 50
	MaxTagLength     = 100
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeNote, EntryTypeDecision, EntryTypeConstraint, EntryTypeRunbook,
		EntryTypeLesson, EntryTypeFeedback, EntryTypeCalibration:
		return true
	}
	return false
}

// Entry is a single unit of stored knowledge.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	EntryType EntryType `json:"entry_type"`
	StoryID   *string   `json:"story_id,omitempty"`
	Tags      []string  `json:"tags"`
	Verified  bool      `json:"verified"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	// HasEmbedding is false until an embedding was stored for the content.
	HasEmbedding bool      `json:"has_embedding"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EntryFilter narrows keyword, semantic and list queries. Zero values match all.
type EntryFilter struct {
	Role      Role
	Tags      []string
	EntryType EntryType
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while
// keeping the first occurrence order.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	return normalized
}

// ValidateContent checks the content length bounds.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	if len([]rune(content)) > MaxContentLength {
		return NewValidationError("content", "must be at most %d characters", MaxContentLength)
	}
	return nil
}

// ValidateTags checks the tag count and length bounds.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return NewValidationError("tags", "at most %d tags allowed", MaxTags)
	}
	for _, tag := range tags {
		if len([]rune(tag)) > MaxTagLength {
			return NewValidationError("tags", "tag %q exceeds %d characters", tag, MaxTagLength)
		}
	}
	return nil
}
