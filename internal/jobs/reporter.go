package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/foodsearch/foodsearch/pkg/kafka"
)

// KafkaReporter publishes rebuild outcomes to the rebuild status topic,
// keyed by locale.
type KafkaReporter struct {
	pub kafka.Publisher
}

// NewKafkaReporter creates a KafkaReporter.
func NewKafkaReporter(pub kafka.Publisher) *KafkaReporter {
	return &KafkaReporter{pub: pub}
}

// Report implements rebuild.Reporter.
func (r *KafkaReporter) Report(ctx context.Context, e rebuild.Event) error {
	if err := r.pub.Publish(ctx, kafka.Event{Key: e.Locale, Value: e}); err != nil {
		return fmt.Errorf("reporting rebuild %s of %s: %w", e.ID, e.Locale, err)
	}
	return nil
}

// LogReporter writes rebuild outcomes to the log only.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{logger: slog.Default().With("component", "rebuild-status")}
}

// Report implements rebuild.Reporter.
func (r *LogReporter) Report(_ context.Context, e rebuild.Event) error {
	level := slog.LevelInfo
	switch e.Outcome {
	case rebuild.OutcomeDegraded:
		level = slog.LevelWarn
	case rebuild.OutcomeFailed:
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "rebuild finished",
		"id", e.ID,
		"locale", e.Locale,
		"version", e.Version,
		"outcome", e.Outcome,
		"entries", e.Entries,
		"skipped", e.Skipped,
		"attempts", e.Attempts,
		"duration_ms", e.DurationMs,
		"error", e.Error,
	)
	return nil
}

// Multi fans an event out to several reporters and joins their errors.
type Multi []rebuild.Reporter

func (m Multi) Report(ctx context.Context, e rebuild.Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
