package index

import "time"

// FoodRecord is one food as delivered by a data source.
type FoodRecord struct {
	FoodID         string `json:"foodId"`
	Locale         string `json:"locale"`
	Description    string `json:"description"`
	PopularityRank int    `json:"popularityRank"`
}

// IndexEntry is the searchable form of one FoodRecord.
type IndexEntry struct {
	FoodID string `json:"foodId"`

	// BaseTokens are the normalized description tokens.
	BaseTokens []string `json:"baseTokens"`

	// Tokens are BaseTokens plus their synonyms.
	Tokens         []string `json:"tokens"`
	PhoneticCodes  []string `json:"phoneticCodes"`
	PopularityRank int      `json:"popularityRank"`
}

// Skip reasons reported in BuildStats.SkippedByReason.
const (
	SkipEmptyID          = "empty_id"
	SkipDuplicateID      = "duplicate_id"
	SkipUnknownLocale    = "unknown_locale"
	SkipEmptyDescription = "empty_description"
)

// BuildStats summarizes one build.
type BuildStats struct {
	Total           int            `json:"total"`
	Indexed         int            `json:"indexed"`
	Skipped         int            `json:"skipped"`
	SkippedByReason map[string]int `json:"skippedByReason,omitempty"`
	Degraded        bool           `json:"degraded"`
	Duration        time.Duration  `json:"durationNs"`
}

func (s *BuildStats) skip(reason string) {
	s.Skipped++
	if s.SkippedByReason == nil {
		s.SkippedByReason = make(map[string]int)
	}
	s.SkippedByReason[reason]++
}

// SkippedFraction is Skipped/Total, zero for an empty build.
func (s BuildStats) SkippedFraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(s.Total)
}
