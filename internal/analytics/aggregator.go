package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/foodsearch/foodsearch/pkg/kafka"
)

const maxLatencySamples = 10000

// LocaleStats aggregates the searches of one locale.
type LocaleStats struct {
	Locale            string         `json:"locale"`
	Searches          int64          `json:"searches"`
	CacheHits         int64          `json:"cache_hits"`
	ZeroResults       int64          `json:"zero_results"`
	ZeroResultRate    float64        `json:"zero_result_rate"`
	AvgLatencyMs      float64        `json:"avg_latency_ms"`
	P50LatencyMs      float64        `json:"p50_latency_ms"`
	P95LatencyMs      float64        `json:"p95_latency_ms"`
	P99LatencyMs      float64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount   `json:"top_queries"`
	ZeroResultQueries []QueryCount   `json:"zero_result_queries"`
	LastRebuild       *rebuild.Event `json:"last_rebuild,omitempty"`
}

// Stats is the aggregate across locales.
type Stats struct {
	Since            time.Time     `json:"since"`
	TotalSearches    int64         `json:"total_searches"`
	QueriesPerMinute float64       `json:"queries_per_minute"`
	Locales          []LocaleStats `json:"locales"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type localeAgg struct {
	searches    int64
	cacheHits   int64
	zeroResults int64
	queries     map[string]int64
	zeroQueries map[string]int64
	lastRebuild *rebuild.Event

	// ring buffer of the latest latencies
	latencies []float64
	next      int
}

// Aggregator keeps running per-locale search statistics in memory.
type Aggregator struct {
	mu      sync.RWMutex
	locales map[string]*localeAgg
	start   time.Time
	logger  *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		locales: make(map[string]*localeAgg),
		start:   time.Now(),
		logger:  slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleSearchEvents returns a Kafka handler for the analytics topic.
func (a *Aggregator) HandleSearchEvents() kafka.Handler {
	return func(_ context.Context, key, value []byte) error {
		e, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			a.logger.Warn("discarding malformed search event", "key", string(key), "error", err)
			return nil
		}
		a.RecordSearch(e)
		return nil
	}
}

// HandleRebuildEvents returns a Kafka handler for the rebuild status topic.
func (a *Aggregator) HandleRebuildEvents() kafka.Handler {
	return func(_ context.Context, key, value []byte) error {
		e, err := kafka.DecodeJSON[rebuild.Event](value)
		if err != nil {
			a.logger.Warn("discarding malformed rebuild event", "key", string(key), "error", err)
			return nil
		}
		a.RecordRebuild(e)
		return nil
	}
}

func (a *Aggregator) RecordSearch(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.localeLocked(e.Locale)
	l.searches++
	if e.CacheHit {
		l.cacheHits++
	}
	if len(l.latencies) < maxLatencySamples {
		l.latencies = append(l.latencies, e.LatencyMs)
	} else {
		l.latencies[l.next] = e.LatencyMs
		l.next = (l.next + 1) % maxLatencySamples
	}
	// group spelling variants by what the index actually saw
	q := strings.Join(e.Tokens, " ")
	if q == "" {
		return
	}
	l.queries[q]++
	if e.TotalHits == 0 {
		l.zeroResults++
		l.zeroQueries[q]++
	}
}

func (a *Aggregator) RecordRebuild(e rebuild.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.localeLocked(e.Locale)
	if l.lastRebuild != nil && l.lastRebuild.Timestamp.After(e.Timestamp) {
		return
	}
	l.lastRebuild = &e
}

func (a *Aggregator) localeLocked(locale string) *localeAgg {
	l, ok := a.locales[locale]
	if !ok {
		l = &localeAgg{queries: make(map[string]int64), zeroQueries: make(map[string]int64)}
		a.locales[locale] = l
	}
	return l
}

// DefaultTopQueries is the length of the query rankings in Stats.
const DefaultTopQueries = 10

// Stats snapshots the aggregate. An empty locale selects all locales.
func (a *Aggregator) Stats(locale string) Stats {
	return a.StatsTop(locale, DefaultTopQueries)
}

// StatsTop is Stats with query rankings of length top.
func (a *Aggregator) StatsTop(locale string, top int) Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stats := Stats{Since: a.start, Locales: []LocaleStats{}}
	for id, l := range a.locales {
		if locale != "" && id != locale {
			continue
		}
		stats.TotalSearches += l.searches
		stats.Locales = append(stats.Locales, l.snapshot(id, top))
	}
	sort.Slice(stats.Locales, func(i, j int) bool { return stats.Locales[i].Locale < stats.Locales[j].Locale })
	if mins := time.Since(a.start).Minutes(); mins > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / mins
	}
	return stats
}

func (l *localeAgg) snapshot(id string, top int) LocaleStats {
	s := LocaleStats{
		Locale:            id,
		Searches:          l.searches,
		CacheHits:         l.cacheHits,
		ZeroResults:       l.zeroResults,
		TopQueries:        topN(l.queries, top),
		ZeroResultQueries: topN(l.zeroQueries, top),
	}
	if l.lastRebuild != nil {
		e := *l.lastRebuild
		s.LastRebuild = &e
	}
	if l.searches > 0 {
		s.ZeroResultRate = float64(l.zeroResults) / float64(l.searches)
	}
	if len(l.latencies) > 0 {
		sorted := append([]float64(nil), l.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		s.AvgLatencyMs = sum / float64(len(sorted))
		s.P50LatencyMs = percentile(sorted, 50)
		s.P95LatencyMs = percentile(sorted, 95)
		s.P99LatencyMs = percentile(sorted, 99)
	}
	return s
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
