// Package matcher answers food queries against the current index of a
// locale.
package matcher

import (
	"context"
	"fmt"

	"github.com/foodsearch/foodsearch/internal/index"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/logger"
)

// IndexSource resolves the current Index of a locale.
type IndexSource interface {
	Current(locale string) *index.Index
}

// Query is a raw search request.
type Query struct {
	Locale string
	Text   string
}

// Result is the answer to one Query, computed against exactly one Index
// version.
// TotalHits counts scored candidates before truncation to the limit.
type Result struct {
	Locale    string   `json:"locale"`
	Version   uint64   `json:"version"`
	Query     string   `json:"query"`
	Tokens    []string `json:"tokens"`
	TotalHits int      `json:"totalHits"`
	Matches   []Match  `json:"matches"`
}

// Config tunes scoring and result sizes.
type Config struct {
	Weights      Weights
	DefaultLimit int
	MaxResults   int
}

type Matcher struct {
	indexes IndexSource
	cfg     Config
}

func New(indexes IndexSource, cfg Config) *Matcher {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 100
	}
	if cfg.DefaultLimit > cfg.MaxResults {
		cfg.DefaultLimit = cfg.MaxResults
	}
	return &Matcher{
		indexes: indexes,
		cfg:     cfg,
	}
}

// Search ranks the foods of q.Locale against q.Text. A locale without a
// published index yields ErrNoIndex; a query that normalizes to nothing or
// matches nothing yields an empty result.
func (m *Matcher) Search(ctx context.Context, q Query, limit int) (*Result, error) {
	// captured once: the whole query runs against this version even if a
	// rebuild publishes mid-flight
	return m.SearchIndex(ctx, m.indexes.Current(q.Locale), q, limit)
}

// SearchIndex is Search against an Index the caller already captured.
func (m *Matcher) SearchIndex(ctx context.Context, idx *index.Index, q Query, limit int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, fmt.Errorf("locale %q: %w", q.Locale, apperrors.ErrNoIndex)
	}
	dict := idx.Dictionary()
	if dict == nil {
		return nil, fmt.Errorf("locale %q version %d has no dictionary: %w", q.Locale, idx.Version(), apperrors.ErrInternal)
	}
	limit = m.Limit(limit)

	analysis := dict.Analyze(q.Text)
	result := &Result{
		Locale:  q.Locale,
		Version: idx.Version(),
		Query:   q.Text,
		Tokens:  analysis.Base,
		Matches: []Match{},
	}
	if len(analysis.Base) == 0 {
		return result, nil
	}

	candidates := make(map[string]struct{})
	for _, tok := range analysis.Expanded {
		for _, id := range idx.TokenPostings(tok) {
			candidates[id] = struct{}{}
		}
	}
	for _, code := range analysis.Codes {
		for _, id := range idx.PhoneticPostings(code) {
			candidates[id] = struct{}{}
		}
	}

	terms := newQueryTerms(dict, analysis.Base)
	matches := make([]Match, 0, len(candidates))
	for id := range candidates {
		e, ok := idx.Entry(id)
		if !ok {
			continue
		}
		if match, ok := score(m.cfg.Weights, terms, e); ok {
			matches = append(matches, match)
		}
	}
	result.TotalHits = len(matches)
	result.Matches = rank(matches, limit)

	logger.FromContext(ctx).Debug("query matched",
		"component", "matcher",
		"locale", q.Locale,
		"version", idx.Version(),
		"tokens", analysis.Base,
		"candidates", len(candidates),
		"results", len(result.Matches),
	)
	return result, nil
}

// Limit resolves a requested limit: non-positive means the default and
// anything above the maximum is clamped.
func (m *Matcher) Limit(limit int) int {
	if limit <= 0 {
		return m.cfg.DefaultLimit
	}
	if limit > m.cfg.MaxResults {
		return m.cfg.MaxResults
	}
	return limit
}
