// Package analytics records what users search for. The search service
// publishes one SearchEvent per query to Kafka; the analytics service
// aggregates them per locale, which surfaces zero-result queries that
// usually point at missing synonyms.
package analytics

import "time"

// SearchEvent describes one answered query.
type SearchEvent struct {
	Locale    string    `json:"locale"`
	Version   uint64    `json:"version"`
	Query     string    `json:"query"`
	Tokens    []string  `json:"tokens"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	TopFoodID string    `json:"top_food_id,omitempty"`
	Outcome   string    `json:"outcome"`
	LatencyMs float64   `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
