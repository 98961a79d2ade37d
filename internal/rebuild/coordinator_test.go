package rebuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foodsearch/foodsearch/internal/index"
	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/internal/phonetic"
	"github.com/foodsearch/foodsearch/internal/snapshot"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	records []index.FoodRecord
	err     error
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (s *fakeSource) FetchFoodRecords(ctx context.Context, _ string) ([]index.FoodRecord, error) {
	s.calls.Add(1)
	s.mu.Lock()
	records, err, gate, entered := s.records, s.err, s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *fakeSource) set(records []index.FoodRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records, s.err = records, err
}

type recordingReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingReporter) Report(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingReporter) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	coord    *Coordinator
	registry *index.Registry
	source   *fakeSource
	reporter *recordingReporter
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config, store SnapshotStore) *fixture {
	t.Helper()
	if cfg.Locales == nil {
		cfg.Locales = []string{"en"}
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
	}
	f := &fixture{
		registry: index.NewRegistry(),
		source:   &fakeSource{records: foods()},
		reporter: &recordingReporter{},
		metrics:  metrics.NewWithRegisterer(prometheus.NewRegistry()),
	}
	provider := locale.NewStaticProvider(locale.Config{
		ID:       "en",
		Encoder:  phonetic.DoubleMetaphoneName,
		Synonyms: [][]string{{"soda", "pop"}},
	})
	coord, err := New(cfg, Deps{
		Registry: f.registry,
		Locales:  provider,
		Encoders: phonetic.DefaultRegistry(),
		Source:   f.source,
		Store:    store,
		Reporter: f.reporter,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close(time.Second) })
	f.coord = coord
	return f
}

func foods() []index.FoodRecord {
	return []index.FoodRecord{
		{FoodID: "f1", Locale: "en", Description: "apple pie", PopularityRank: 5},
		{FoodID: "f2", Locale: "en", Description: "apple juice", PopularityRank: 4},
		{FoodID: "f3", Locale: "en", Description: "cherry soda", PopularityRank: 3},
	}
}

func TestRebuildSyncPublishes(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	st, err := f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)

	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 3, st.Entries)
	assert.Equal(t, 1, st.Attempts)
	assert.NotZero(t, st.Version)
	assert.True(t, f.coord.Ready())
	assert.Equal(t, OutcomeSuccess, f.reporter.last().Outcome)
	assert.Equal(t, st.Version, f.reporter.last().Version)
	assert.Equal(t, float64(st.Version), testutil.ToFloat64(f.metrics.IndexVersion.WithLabelValues("en")))
}

func TestRebuildLogsPhaseSpans(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	f := newFixture(t, Config{}, nil)
	_, err := f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)

	out := buf.String()
	for _, phase := range []string{"span=rebuild", "span=attempt", "span=fetch", "span=build", "span=publish"} {
		assert.Contains(t, out, phase)
	}
	assert.Equal(t, 1, strings.Count(out, "span=fetch"))
	assert.Contains(t, out, "records=3")
}

func TestRebuildWithMalformedRecordsIsDegradedNotFailed(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	records := make([]index.FoodRecord, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, index.FoodRecord{FoodID: fmt.Sprintf("f%d", i), Locale: "en", Description: fmt.Sprintf("food number %d", i)})
	}
	records = append(records,
		index.FoodRecord{FoodID: "bad1", Locale: "en", Description: ""},
		index.FoodRecord{FoodID: "bad2", Locale: "zz", Description: "unknown locale"},
	)
	f.source.set(records, nil)

	st, err := f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, 8, st.Entries)
	assert.Equal(t, 2, st.Skipped)
	assert.True(t, st.Degraded)
	assert.Equal(t, 8, f.registry.Current("en").Len())

	ev := f.reporter.last()
	assert.Equal(t, OutcomeDegraded, ev.Outcome)
	assert.Equal(t, 2, ev.Skipped)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IndexRebuildsTotal.WithLabelValues("en", metrics.RebuildDegraded)))
}

func TestRepeatedFailuresMarkStaleAndKeepServing(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3}, nil)
	first, err := f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)

	f.source.set(nil, fmt.Errorf("connection refused: %w", apperrors.ErrSourceUnavailable))
	f.source.calls.Store(0)
	st, err := f.coord.RebuildSync(context.Background(), "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)

	assert.Equal(t, int32(3), f.source.calls.Load())
	assert.Equal(t, StateStale, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, first.Version, st.Version)
	assert.Contains(t, st.LastError, "connection refused")
	assert.Equal(t, OutcomeFailed, f.reporter.last().Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IndexStale.WithLabelValues("en")))

	m := matcher.New(f.registry, matcher.Config{Weights: matcher.DefaultWeights()})
	res, err := m.Search(context.Background(), matcher.Query{Locale: "en", Text: "aple pie"}, 5)
	require.NoError(t, err)
	assert.Equal(t, first.Version, res.Version)
	assert.Equal(t, "f1", res.Matches[0].FoodID)

	// recovery clears staleness
	f.source.set(foods(), nil)
	st, err = f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.LastError)
	assert.Greater(t, st.Version, first.Version)
}

func TestBuildTimeoutIsAFailure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2, BuildTimeout: 20 * time.Millisecond}, nil)
	f.source.gate = make(chan struct{})

	st, err := f.coord.RebuildSync(context.Background(), "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, StateStale, st.State)
	assert.Nil(t, f.registry.Current("en"))
	assert.False(t, f.coord.Ready())
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	var last uint64
	for i := 0; i < 5; i++ {
		st, err := f.coord.RebuildSync(context.Background(), "en")
		require.NoError(t, err)
		assert.Greater(t, st.Version, last)
		last = st.Version
	}
}

func TestRequestRebuildCoalesces(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	gate := make(chan struct{})
	f.source.gate = gate
	f.source.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.Start(ctx)

	require.NoError(t, f.coord.RequestRebuild("en"))
	select {
	case <-f.source.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not start")
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, f.coord.RequestRebuild("en"))
	}
	st := f.coord.Status("en")
	assert.Equal(t, StateBuilding, st.State)
	assert.True(t, st.Pending)

	close(gate)
	require.Eventually(t, func() bool {
		s := f.coord.Status("en")
		return f.source.calls.Load() == 2 && s.State == StateIdle && !s.Pending && !s.Queued
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), f.source.calls.Load())
}

func TestRequestDuringRebuildSyncRunsFollowUp(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	gate := make(chan struct{})
	f.source.gate = gate
	f.source.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.Start(ctx)

	syncErr := make(chan error, 1)
	go func() {
		_, err := f.coord.RebuildSync(ctx, "en")
		syncErr <- err
	}()
	select {
	case <-f.source.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not start")
	}

	require.NoError(t, f.coord.RequestRebuild("en"))
	assert.True(t, f.coord.Status("en").Pending)

	close(gate)
	require.NoError(t, <-syncErr)
	require.Eventually(t, func() bool {
		s := f.coord.Status("en")
		return f.source.calls.Load() == 2 && s.State == StateIdle && !s.Pending && !s.Queued
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRequestRebuildUnknownLocale(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	assert.ErrorIs(t, f.coord.RequestRebuild("xx"), apperrors.ErrUnknownLocale)
	_, err := f.coord.RebuildSync(context.Background(), "xx")
	assert.ErrorIs(t, err, apperrors.ErrUnknownLocale)
}

func TestConcurrentSearchesDuringRebuild(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	before, err := f.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)

	gate := make(chan struct{})
	f.source.gate = gate
	f.source.entered = make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.Start(ctx)
	require.NoError(t, f.coord.RequestRebuild("en"))
	<-f.source.entered

	m := matcher.New(f.registry, matcher.Config{Weights: matcher.DefaultWeights()})
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 50 {
				close(gate)
			}
			res, err := m.Search(context.Background(), matcher.Query{Locale: "en", Text: "apple"}, 10)
			if err != nil || len(res.Matches) != 2 || res.Version < before.Version {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, failures.Load())

	require.Eventually(t, func() bool {
		return f.coord.Status("en").Version > before.Version
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWarmFromSnapshot(t *testing.T) {
	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first := newFixture(t, Config{}, store)
	built, err := first.coord.RebuildSync(context.Background(), "en")
	require.NoError(t, err)

	second := newFixture(t, Config{}, store)
	second.source.set(nil, errors.New("database down"))
	require.NoError(t, second.coord.Warm(context.Background()))

	assert.True(t, second.coord.Ready())
	assert.Equal(t, built.Version, second.registry.Current("en").Version())
	assert.Zero(t, second.source.calls.Load())
	// a refresh is queued behind the snapshot
	assert.True(t, second.coord.Status("en").Queued)

	m := matcher.New(second.registry, matcher.Config{Weights: matcher.DefaultWeights()})
	res, err := m.Search(context.Background(), matcher.Query{Locale: "en", Text: "pop"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)
	assert.Equal(t, "f3", res.Matches[0].FoodID)
}

func TestWarmFallsBackToRebuild(t *testing.T) {
	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, Config{}, store)
	require.NoError(t, f.coord.Warm(context.Background()))
	assert.True(t, f.coord.Ready())
	assert.Equal(t, int32(1), f.source.calls.Load())

	_, err = store.Inspect("en")
	assert.NoError(t, err)
}

func TestWarmReportsFailures(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2}, nil)
	f.source.set(nil, apperrors.ErrSourceUnavailable)
	err := f.coord.Warm(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	assert.False(t, f.coord.Ready())
	assert.Equal(t, StateStale, f.coord.Status("en").State)
}
