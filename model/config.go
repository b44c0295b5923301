package model

import "math"

// FusionConfig weights the two rankings merged by reciprocal rank fusion.
// The weights don't need to sum to 1.
type FusionConfig struct {
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight"`
	// K dampens the influence of top ranks.
	K int `json:"k"`
}

// DefaultFusionConfig returns the standard 0.7/0.3 weighting with k=60.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		K:              60,
	}
}

func (c FusionConfig) Validate() error {
	if c.K < 0 {
		return NewValidationError("k", "must not be negative, got %d", c.K)
	}
	if math.IsNaN(c.SemanticWeight) || math.IsInf(c.SemanticWeight, 0) {
		return NewValidationError("semantic_weight", "must be a finite number")
	}
	if math.IsNaN(c.KeywordWeight) || math.IsInf(c.KeywordWeight, 0) {
		return NewValidationError("keyword_weight", "must be a finite number")
	}
	return nil
}
