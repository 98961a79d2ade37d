// Package rebuild coordinates asynchronous per-locale index rebuilds: one
// build per locale at a time, coalesced requests, bounded retries and
// atomic publication so that search never waits on a rebuild.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foodsearch/foodsearch/internal/dictionary"
	"github.com/foodsearch/foodsearch/internal/index"
	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/phonetic"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/foodsearch/foodsearch/pkg/resilience"
	"github.com/foodsearch/foodsearch/pkg/tracing"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// Source supplies the food records of a locale.
type Source interface {
	FetchFoodRecords(ctx context.Context, locale string) ([]index.FoodRecord, error)
}

// SnapshotStore persists published indices.
type SnapshotStore interface {
	Save(idx *index.Index) error
	Load(locale string) (*index.Index, error)
}

// Config tunes the coordinator.
type Config struct {
	Locales           []string
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BuildTimeout      time.Duration
	Workers           int
	DegradedThreshold float64
	CodeCacheSize     int
}

// Deps are the collaborators of a Coordinator. Store, Reporter and
// Metrics are optional.
type Deps struct {
	Registry *index.Registry
	Locales  locale.Provider
	Encoders *phonetic.Registry
	Source   Source
	Store    SnapshotStore
	Reporter Reporter
	Metrics  *metrics.Metrics
}

type localeState struct {
	// buildMu serializes builds of the locale, including RebuildSync.
	buildMu sync.Mutex

	queued      bool
	running     bool
	pending     bool
	stale       bool
	lastError   string
	lastBuildAt time.Time
	lastBuildID string
	lastStats   index.BuildStats
	attempts    int
	lastVersion uint64
}

// Coordinator owns the rebuild lifecycle of a fixed set of locales.
type Coordinator struct {
	cfg    Config
	deps   Deps
	pool   *ants.Pool
	queue  chan string
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*localeState

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Coordinator. Start must be called before queued rebuilds
// run.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Registry == nil || deps.Locales == nil || deps.Encoders == nil || deps.Source == nil {
		return nil, errors.New("rebuild: registry, locale provider, encoders and source are required")
	}
	if len(cfg.Locales) == 0 {
		return nil, errors.New("rebuild: no locales configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 10 * time.Minute
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		slog.Default().With("component", "rebuild").Error("rebuild worker panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating rebuild worker pool: %w", err)
	}

	states := make(map[string]*localeState, len(cfg.Locales))
	for _, l := range cfg.Locales {
		states[l] = &localeState{}
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		pool:   pool,
		queue:  make(chan string, len(cfg.Locales)),
		logger: slog.Default().With("component", "rebuild"),
		states: states,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the dispatcher that feeds queued locales to the worker
// pool. Rebuilds run with ctx, so cancelling it aborts builds in flight.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.dispatch(ctx)
	})
}

// Close stops dispatching and waits up to timeout for running builds.
func (c *Coordinator) Close(timeout time.Duration) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		select {
		case <-c.done:
		case <-time.After(timeout):
			c.logger.Warn("dispatcher did not stop in time")
		}
	}
	return c.pool.ReleaseTimeout(timeout)
}

// Locales returns the configured locales, sorted.
func (c *Coordinator) Locales() []string {
	out := make([]string, 0, len(c.states))
	for l := range c.states {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Current returns the published index of locale.
func (c *Coordinator) Current(locale string) *index.Index {
	return c.deps.Registry.Current(locale)
}

// Ready reports whether every configured locale serves an index.
func (c *Coordinator) Ready() bool {
	for l := range c.states {
		if c.deps.Registry.Current(l) == nil {
			return false
		}
	}
	return true
}

// RequestRebuild asks for a rebuild of locale and returns immediately.
// Requests made while a build is queued are absorbed by it; requests made
// while one is running collapse into a single follow-up build.
func (c *Coordinator) RequestRebuild(locale string) error {
	st, ok := c.states[locale]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, locale)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case st.running:
		st.pending = true
	case st.queued:
	default:
		st.queued = true
		// capacity equals the locale count and a locale is queued at
		// most once, so this never blocks
		c.queue <- locale
	}
	return nil
}

// RequestAll requests a rebuild of every configured locale.
func (c *Coordinator) RequestAll() {
	for _, l := range c.Locales() {
		_ = c.RequestRebuild(l)
	}
}

func (c *Coordinator) dispatch(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case locale := <-c.queue:
			if err := c.pool.Submit(func() { c.runQueued(ctx, locale) }); err != nil {
				c.logger.Error("submitting rebuild failed", "locale", locale, "error", err)
				c.mu.Lock()
				c.states[locale].queued = false
				c.mu.Unlock()
			}
		}
	}
}

func (c *Coordinator) runQueued(ctx context.Context, locale string) {
	_ = c.runExclusive(ctx, locale, true)
}

// runExclusive runs one build under the locale's build lock and then
// queues the follow-up build requested while it was running, if any.
func (c *Coordinator) runExclusive(ctx context.Context, locale string, dequeue bool) error {
	st := c.states[locale]
	st.buildMu.Lock()
	c.mu.Lock()
	if dequeue {
		st.queued = false
	}
	st.running = true
	c.mu.Unlock()

	err := c.run(ctx, locale)

	c.mu.Lock()
	st.running = false
	followUp := st.pending
	st.pending = false
	c.mu.Unlock()
	st.buildMu.Unlock()

	if followUp && ctx.Err() == nil {
		_ = c.RequestRebuild(locale)
	}
	return err
}

// RebuildSync rebuilds locale on the calling goroutine and returns the
// outcome. It waits for a build of the same locale already in progress.
// Requests made during the build are queued once it finishes.
func (c *Coordinator) RebuildSync(ctx context.Context, locale string) (Status, error) {
	if _, ok := c.states[locale]; !ok {
		return Status{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, locale)
	}
	err := c.runExclusive(ctx, locale, false)
	return c.Status(locale), err
}

// run performs one rebuild with retries. The caller holds buildMu.
func (c *Coordinator) run(ctx context.Context, locale string) (err error) {
	st := c.states[locale]
	buildID := uuid.NewString()
	logger := c.logger.With("locale", locale, "build_id", buildID)
	start := time.Now()
	logger.Info("rebuild started")

	ctx, span := tracing.Start(ctx, "rebuild", buildID)
	span.Set("locale", locale)
	defer func() {
		span.End(err)
		span.Log(ctx, logger)
	}()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    c.cfg.MaxAttempts,
		InitialDelay:   c.cfg.InitialBackoff,
		MaxDelay:       c.cfg.MaxBackoff,
		JitterFraction: 0.1,
	}
	attempts := 0
	var built *index.Index
	err = resilience.Retry(ctx, "rebuild-"+locale, retryCfg, func(attempt int) error {
		attempts = attempt
		c.mu.Lock()
		st.attempts = attempt
		c.mu.Unlock()
		actx, aspan := tracing.Child(ctx, "attempt")
		aspan.Set("attempt", attempt)
		// an attempt abandoned on timeout may still finish in the
		// background; only a result delivered in time is used
		var attemptIdx *index.Index
		err := resilience.WithTimeout(actx, c.cfg.BuildTimeout, "index-build-"+locale, func(ctx context.Context) error {
			idx, err := c.buildIndex(ctx, locale)
			if err != nil {
				return err
			}
			attemptIdx = idx
			return nil
		})
		if err != nil {
			return aspan.End(err)
		}
		built = attemptIdx
		return aspan.End(nil)
	})
	if err == nil {
		if c.deps.Store != nil {
			_, sspan := tracing.Child(ctx, "snapshot-save")
			// a snapshot failure costs restart time, not correctness
			if serr := sspan.End(c.deps.Store.Save(built)); serr != nil {
				logger.Warn("saving snapshot failed", "error", serr)
			}
		}
		_, pspan := tracing.Child(ctx, "publish")
		err = pspan.End(c.publish(built))
	}

	if err != nil && ctx.Err() != nil {
		logger.Info("rebuild aborted", "attempts", attempts, "error", err)
		return err
	}

	event := Event{
		ID:         buildID,
		Locale:     locale,
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		c.mu.Lock()
		st.stale = true
		st.lastError = err.Error()
		st.lastBuildID = buildID
		c.mu.Unlock()

		event.Outcome = OutcomeFailed
		event.Error = err.Error()
		if cur := c.deps.Registry.Current(locale); cur != nil {
			event.Version = cur.Version()
		}
		if m := c.deps.Metrics; m != nil {
			m.IndexRebuildsTotal.WithLabelValues(locale, metrics.RebuildFailed).Inc()
			m.IndexStale.WithLabelValues(locale).Set(1)
		}
		logger.Error("rebuild failed, keeping previous index", "attempts", attempts, "serving_version", event.Version, "error", err)
		c.report(ctx, event)
		return err
	}

	stats := built.Stats()
	c.mu.Lock()
	st.stale = false
	st.lastError = ""
	st.lastBuildAt = built.BuiltAt()
	st.lastBuildID = buildID
	st.lastStats = stats
	c.mu.Unlock()

	event.Version = built.Version()
	event.Entries = stats.Indexed
	event.Skipped = stats.Skipped
	event.SkippedByReason = stats.SkippedByReason
	event.Degraded = stats.Degraded
	event.Outcome = OutcomeSuccess
	if stats.Degraded {
		event.Outcome = OutcomeDegraded
	}
	if m := c.deps.Metrics; m != nil {
		m.IndexRebuildsTotal.WithLabelValues(locale, event.Outcome).Inc()
		m.IndexStale.WithLabelValues(locale).Set(0)
		for reason, n := range stats.SkippedByReason {
			m.IndexSkippedRecords.WithLabelValues(locale, reason).Add(float64(n))
		}
	}
	logger.Info("rebuild published",
		"version", built.Version(),
		"entries", stats.Indexed,
		"skipped", stats.Skipped,
		"degraded", stats.Degraded,
		"attempts", attempts,
		"duration", time.Since(start),
	)
	c.report(ctx, event)
	return nil
}

// buildIndex is a single attempt: it reads the locale definition once,
// fetches the records and builds an unpublished index.
func (c *Coordinator) buildIndex(ctx context.Context, locale string) (*index.Index, error) {
	start := time.Now()
	_, dspan := tracing.Child(ctx, "locale-definition")
	dict, err := c.dictionary(ctx, locale)
	if dspan.End(err) != nil {
		return nil, err
	}
	fctx, fspan := tracing.Child(ctx, "fetch")
	records, err := c.deps.Source.FetchFoodRecords(fctx, locale)
	fspan.Set("records", len(records))
	if fspan.End(err) != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}

	bctx, bspan := tracing.Child(ctx, "build")
	builder := index.NewBuilder(dict, c.cfg.DegradedThreshold)
	idx, stats, err := builder.Build(bctx, locale, c.nextVersion(locale), records)
	if bspan.End(err) != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	bspan.Set("indexed", stats.Indexed)
	bspan.Set("skipped", stats.Skipped)
	if m := c.deps.Metrics; m != nil {
		m.IndexBuildDuration.WithLabelValues(locale).Observe(time.Since(start).Seconds())
	}
	return idx, nil
}

func (c *Coordinator) dictionary(ctx context.Context, locale string) (*dictionary.Dictionary, error) {
	lc, err := c.deps.Locales.Load(ctx, locale)
	if err != nil {
		return nil, fmt.Errorf("loading locale definition: %w", err)
	}
	enc, err := c.deps.Encoders.Lookup(lc.WithDefaults().Encoder)
	if err != nil {
		return nil, fmt.Errorf("locale %s: %w", locale, err)
	}
	if c.cfg.CodeCacheSize > 0 {
		enc = phonetic.Cached(enc, c.cfg.CodeCacheSize)
	}
	return dictionary.New(lc, enc)
}

// nextVersion returns a version above anything published or assigned
// for locale. Versions are seeded from the wall clock so they keep
// increasing across restarts without a snapshot.
func (c *Coordinator) nextVersion(locale string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[locale]
	next := uint64(time.Now().UnixMilli())
	floor := st.lastVersion
	if cur := c.deps.Registry.Current(locale); cur != nil && cur.Version() > floor {
		floor = cur.Version()
	}
	if next <= floor {
		next = floor + 1
	}
	st.lastVersion = next
	return next
}

func (c *Coordinator) publish(idx *index.Index) error {
	if err := c.deps.Registry.Publish(idx); err != nil {
		return err
	}
	if m := c.deps.Metrics; m != nil {
		m.IndexVersion.WithLabelValues(idx.LocaleID()).Set(float64(idx.Version()))
		m.IndexEntries.WithLabelValues(idx.LocaleID()).Set(float64(idx.Len()))
	}
	return nil
}

func (c *Coordinator) report(ctx context.Context, e Event) {
	if c.deps.Reporter == nil {
		return
	}
	// reporting must not be skipped because the build context expired
	ctx = context.WithoutCancel(ctx)
	if err := c.deps.Reporter.Report(ctx, e); err != nil {
		c.logger.Warn("reporting rebuild outcome failed", "locale", e.Locale, "build_id", e.ID, "error", err)
	}
}

// Status returns the rebuild status of locale. Unknown locales report a
// zero status in the idle state.
func (c *Coordinator) Status(locale string) Status {
	s := Status{Locale: locale, State: StateIdle}
	if cur := c.deps.Registry.Current(locale); cur != nil {
		s.Version = cur.Version()
		s.Entries = cur.Len()
	}
	st, ok := c.states[locale]
	if !ok {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case st.running || st.queued:
		s.State = StateBuilding
	case st.stale:
		s.State = StateStale
	}
	s.Queued = st.queued
	s.Pending = st.pending
	s.LastError = st.lastError
	s.LastBuildAt = st.lastBuildAt
	s.LastBuildID = st.lastBuildID
	s.Skipped = st.lastStats.Skipped
	s.SkippedBy = st.lastStats.SkippedByReason
	s.Degraded = st.lastStats.Degraded
	s.Attempts = st.attempts
	return s
}

// Statuses returns the status of every configured locale, sorted.
func (c *Coordinator) Statuses() []Status {
	locales := c.Locales()
	out := make([]Status, 0, len(locales))
	for _, l := range locales {
		out = append(out, c.Status(l))
	}
	return out
}
