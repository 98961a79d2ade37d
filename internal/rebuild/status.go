package rebuild

import (
	"context"
	"time"
)

// State is the coarse rebuild state of a locale.
type State string

const (
	StateIdle     State = "idle"
	StateBuilding State = "building"
	StateStale    State = "stale"
)

// Status is the observable rebuild state of one locale.
type Status struct {
	Locale  string `json:"locale"`
	Version uint64 `json:"version"`
	State   State  `json:"state"`

	// Queued is set while a requested rebuild waits for a worker. Pending
	// is set when a rebuild was requested while one was running; it runs
	// as soon as the current one finishes.
	Queued  bool `json:"queued"`
	Pending bool `json:"pending"`

	LastError   string         `json:"lastError,omitempty"`
	LastBuildAt time.Time      `json:"lastBuildAt,omitzero"`
	LastBuildID string         `json:"lastBuildId,omitempty"`
	Entries     int            `json:"entries"`
	Skipped     int            `json:"skipped"`
	SkippedBy   map[string]int `json:"skippedByReason,omitempty"`
	Degraded    bool           `json:"degraded"`
	Attempts    int            `json:"attempts"`
}

// Outcome of one rebuild run.
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Event describes one finished rebuild run for the job layer.
type Event struct {
	ID              string         `json:"id"`
	Locale          string         `json:"locale"`
	Version         uint64         `json:"version"`
	Outcome         string         `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	Entries         int            `json:"entries"`
	Skipped         int            `json:"skipped"`
	SkippedByReason map[string]int `json:"skippedByReason,omitempty"`
	Degraded        bool           `json:"degraded"`
	Attempts        int            `json:"attempts"`
	DurationMs      int64          `json:"durationMs"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Reporter receives the outcome of every rebuild run.
type Reporter interface {
	Report(ctx context.Context, e Event) error
}
