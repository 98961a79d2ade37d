package index

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/foodsearch/foodsearch/internal/dictionary"
)

// DefaultDegradedThreshold is the skipped-record fraction above which a
// build is reported as degraded.
const DefaultDegradedThreshold = 0.1

// ctxCheckEvery is how many records are processed between context checks.
const ctxCheckEvery = 1024

// Builder derives an Index from food records with one locale's Dictionary.
type Builder struct {
	dict              *dictionary.Dictionary
	degradedThreshold float64
	logger            *slog.Logger
}

// NewBuilder returns a Builder. A threshold outside (0, 1] falls back to
// DefaultDegradedThreshold.
func NewBuilder(dict *dictionary.Dictionary, degradedThreshold float64) *Builder {
	if degradedThreshold <= 0 || degradedThreshold > 1 {
		degradedThreshold = DefaultDegradedThreshold
	}
	return &Builder{
		dict:              dict,
		degradedThreshold: degradedThreshold,
		logger:            slog.Default().With("component", "index-builder", "locale", dict.Locale()),
	}
}

// Build consumes records in a single pass and returns a complete Index.
// Malformed records are skipped and counted; they never fail the build.
// The only error is ctx expiring, in which case nothing is returned.
func (b *Builder) Build(ctx context.Context, localeID string, version uint64, records []FoodRecord) (*Index, BuildStats, error) {
	start := time.Now()
	idx := newIndex(localeID, version, len(records))
	idx.dict = b.dict
	stats := BuildStats{Total: len(records)}

	for i, rec := range records {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, BuildStats{}, err
			}
		}
		id := strings.TrimSpace(rec.FoodID)
		switch {
		case id == "":
			stats.skip(SkipEmptyID)
			continue
		case rec.Locale != localeID:
			stats.skip(SkipUnknownLocale)
			continue
		}
		if _, dup := idx.entries[id]; dup {
			stats.skip(SkipDuplicateID)
			continue
		}

		a := b.dict.Analyze(rec.Description)
		if len(a.Base) == 0 {
			stats.skip(SkipEmptyDescription)
			continue
		}
		idx.add(&IndexEntry{
			FoodID:         id,
			BaseTokens:     a.Base,
			Tokens:         a.Expanded,
			PhoneticCodes:  a.Codes,
			PopularityRank: rec.PopularityRank,
		})
		stats.Indexed++
	}

	stats.Degraded = stats.SkippedFraction() > b.degradedThreshold
	stats.Duration = time.Since(start)
	idx.stats = stats
	idx.seal(time.Now().UTC())

	level := slog.LevelInfo
	if stats.Degraded {
		level = slog.LevelWarn
	}
	b.logger.Log(ctx, level, "index built",
		"version", version,
		"total", stats.Total,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"skipped_by_reason", stats.SkippedByReason,
		"degraded", stats.Degraded,
		"tokens", idx.TokenCount(),
		"codes", idx.PhoneticCount(),
		"duration", stats.Duration,
	)
	return idx, stats, nil
}
