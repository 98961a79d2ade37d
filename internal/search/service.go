// Package search is the query-side facade used by the HTTP handler and the
// CLI: matching, result caching, analytics and rebuild control behind one
// type.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foodsearch/foodsearch/internal/analytics"
	"github.com/foodsearch/foodsearch/internal/index"
	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/foodsearch/foodsearch/internal/searcher/cache"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/logger"
	"github.com/foodsearch/foodsearch/pkg/metrics"
)

// MaxQueryLength bounds the raw query text in bytes.
const MaxQueryLength = 512

// Rebuilds is the part of the rebuild coordinator the service exposes.
type Rebuilds interface {
	Current(locale string) *index.Index
	Locales() []string
	Ready() bool
	RequestRebuild(locale string) error
	Status(locale string) rebuild.Status
	Statuses() []rebuild.Status
}

// Tracker receives one analytics event per answered query.
type Tracker interface {
	Track(e analytics.SearchEvent)
}

// Options are the optional collaborators of a Service.
type Options struct {
	Cache   *cache.QueryCache
	Tracker Tracker
	Metrics *metrics.Metrics

	// Timeout bounds one Search; zero means no bound.
	Timeout time.Duration
}

// Service answers searches and exposes rebuild control.
type Service struct {
	matcher  *matcher.Matcher
	rebuilds Rebuilds
	opts     Options
	known    map[string]bool
	logger   *slog.Logger
}

func New(m *matcher.Matcher, rebuilds Rebuilds, opts Options) *Service {
	known := make(map[string]bool)
	for _, l := range rebuilds.Locales() {
		known[l] = true
	}
	return &Service{
		matcher:  m,
		rebuilds: rebuilds,
		opts:     opts,
		known:    known,
		logger:   slog.Default().With("component", "search"),
	}
}

// Search answers text against the current index of locale. Unknown
// locales and locales without a published index yield ErrNoIndex.
func (s *Service) Search(ctx context.Context, locale, text string, limit int) (*matcher.Result, error) {
	start := time.Now()
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "locale is required")
	}
	if len(text) > MaxQueryLength {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "query longer than %d bytes", MaxQueryLength)
	}
	if limit < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit %d is negative", limit)
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	label := locale
	if !s.known[locale] {
		label = "unknown"
	}
	// captured once so the cache key and the answer agree on the version
	idx := s.rebuilds.Current(locale)
	if idx == nil {
		s.observe(label, metrics.OutcomeNoIndex, "bypass", start, nil)
		return nil, fmt.Errorf("locale %q: %w", locale, apperrors.ErrNoIndex)
	}

	q := matcher.Query{Locale: locale, Text: text}
	res, cacheStatus, err := s.search(ctx, idx, q, limit)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, apperrors.ErrNoIndex) {
			outcome = metrics.OutcomeNoIndex
		}
		s.observe(label, outcome, cacheStatus, start, nil)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("search %s: %w: %w", locale, apperrors.ErrTimeout, err)
		}
		return nil, err
	}

	outcome := metrics.OutcomeHit
	if len(res.Matches) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	s.observe(label, outcome, cacheStatus, start, res)
	s.track(ctx, res, cacheStatus == "hit", start)
	return res, nil
}

func (s *Service) search(ctx context.Context, idx *index.Index, q matcher.Query, limit int) (*matcher.Result, string, error) {
	if s.opts.Cache == nil {
		res, err := s.matcher.SearchIndex(ctx, idx, q, limit)
		return res, "bypass", err
	}
	var tokens []string
	if dict := idx.Dictionary(); dict != nil {
		tokens = dict.Normalize(q.Text)
	}
	if len(tokens) == 0 {
		res, err := s.matcher.SearchIndex(ctx, idx, q, limit)
		return res, "bypass", err
	}
	key := cache.Key(q.Locale, idx.Version(), tokens, s.matcher.Limit(limit))
	res, hit, err := s.opts.Cache.GetOrCompute(ctx, key, func(ctx context.Context) (*matcher.Result, error) {
		return s.matcher.SearchIndex(ctx, idx, q, limit)
	})
	status := "miss"
	if hit {
		status = "hit"
	}
	if err != nil {
		return nil, status, err
	}
	// results are shared between callers of equivalent queries
	out := *res
	out.Query = q.Text
	return &out, status, nil
}

func (s *Service) observe(locale, outcome, cacheStatus string, start time.Time, res *matcher.Result) {
	m := s.opts.Metrics
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(locale, outcome).Inc()
	m.SearchLatency.WithLabelValues(locale, cacheStatus).Observe(time.Since(start).Seconds())
	if res != nil {
		m.SearchResultsCount.WithLabelValues(locale).Observe(float64(len(res.Matches)))
	}
}

func (s *Service) track(ctx context.Context, res *matcher.Result, cacheHit bool, start time.Time) {
	if s.opts.Tracker == nil {
		return
	}
	e := analytics.SearchEvent{
		Locale:    res.Locale,
		Version:   res.Version,
		Query:     res.Query,
		Tokens:    res.Tokens,
		TotalHits: res.TotalHits,
		Returned:  len(res.Matches),
		Outcome:   metrics.OutcomeHit,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	}
	if len(res.Matches) > 0 {
		e.TopFoodID = res.Matches[0].FoodID
	} else {
		e.Outcome = metrics.OutcomeEmpty
	}
	s.opts.Tracker.Track(e)
}

// Locales lists the configured locales.
func (s *Service) Locales() []string { return s.rebuilds.Locales() }

// Ready reports whether every configured locale serves an index.
func (s *Service) Ready() bool { return s.rebuilds.Ready() }

// RequestRebuild queues a rebuild of locale.
func (s *Service) RequestRebuild(locale string) error {
	return s.rebuilds.RequestRebuild(locale)
}

// Status returns the rebuild status of a configured locale.
func (s *Service) Status(locale string) (rebuild.Status, error) {
	if !s.known[locale] {
		return rebuild.Status{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, locale)
	}
	return s.rebuilds.Status(locale), nil
}

func (s *Service) Statuses() []rebuild.Status { return s.rebuilds.Statuses() }

// InvalidateCache drops cached results of locale, or of all locales when
// locale is empty. It is a no-op without a cache.
func (s *Service) InvalidateCache(ctx context.Context, locale string) (int64, error) {
	if s.opts.Cache == nil {
		return 0, nil
	}
	if locale != "" && !s.known[locale] {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, locale)
	}
	return s.opts.Cache.Invalidate(ctx, locale)
}
