// Package bootstrap assembles the indexing side of the service from
// configuration. The search server and foodctl share it so both build
// indexes from the same source with the same policy.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foodsearch/foodsearch/internal/index"
	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/phonetic"
	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/foodsearch/foodsearch/internal/snapshot"
	"github.com/foodsearch/foodsearch/internal/source"
	"github.com/foodsearch/foodsearch/pkg/config"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/foodsearch/foodsearch/pkg/postgres"
	"github.com/foodsearch/foodsearch/pkg/resilience"
)

// ErrNoSource is returned when no food record source is configured.
var ErrNoSource = errors.New("no food record source configured: enable postgres or set index.sqlitePath or index.recordsFile")

// Source opens the configured food record source, preferring PostgreSQL,
// then SQLite, then a records file, and wraps it in a circuit breaker. The
// returned close function releases its connections.
func Source(cfg *config.Config, m *metrics.Metrics) (*source.Breaker, func() error, error) {
	var (
		src     source.Source
		closeFn = func() error { return nil }
	)
	switch {
	case cfg.Postgres.Enabled:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		pg := source.NewPostgres(client, cfg.Postgres.RecordsQuery)
		src, closeFn = pg, pg.Close
	case cfg.Index.SQLitePath != "":
		lite, err := source.OpenSQLite(cfg.Index.SQLitePath, cfg.Postgres.RecordsQuery)
		if err != nil {
			return nil, nil, err
		}
		src, closeFn = lite, lite.Close
	case cfg.Index.RecordsFile != "":
		src = source.NewFile(cfg.Index.RecordsFile)
	default:
		return nil, nil, ErrNoSource
	}

	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Rebuild.BreakerThreshold,
		ResetTimeout:     cfg.Rebuild.BreakerReset,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		}
	}
	slog.Info("food record source ready", "source", fmt.Sprintf("%T", src))
	return source.WithBreaker(src, resilience.NewCircuitBreaker("food-source", cbCfg)), closeFn, nil
}

// Locales returns the configured locale IDs, or every locale the provider
// defines when none are configured.
func Locales(ctx context.Context, cfg *config.Config, p locale.Provider) ([]string, error) {
	if len(cfg.Index.Locales) > 0 {
		for _, id := range cfg.Index.Locales {
			if _, err := p.Load(ctx, id); err != nil {
				return nil, fmt.Errorf("configured locale %s: %w", id, err)
			}
		}
		return cfg.Index.Locales, nil
	}
	ids, err := p.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no locales defined in %s", cfg.Index.LocalesFile)
	}
	return ids, nil
}

// Indexing is the rebuild side of the service.
type Indexing struct {
	Registry    *index.Registry
	Locales     []string
	Provider    locale.Provider
	Snapshots   *snapshot.Store
	Coordinator *rebuild.Coordinator
}

// Close waits up to timeout for running builds, then releases the worker
// pool and the snapshot store.
func (ix *Indexing) Close(timeout time.Duration) error {
	err := ix.Coordinator.Close(timeout)
	if ix.Snapshots != nil {
		err = errors.Join(err, ix.Snapshots.Close())
	}
	return err
}

// NewIndexing builds the registry, snapshot store and coordinator for the
// locales of cfg. reporter and m may be nil.
func NewIndexing(ctx context.Context, cfg *config.Config, src rebuild.Source, reporter rebuild.Reporter, m *metrics.Metrics) (*Indexing, error) {
	provider := locale.NewFileProvider(cfg.Index.LocalesFile)
	locales, err := Locales(ctx, cfg, provider)
	if err != nil {
		return nil, err
	}
	ix := &Indexing{
		Registry: index.NewRegistry(),
		Locales:  locales,
		Provider: provider,
	}
	deps := rebuild.Deps{
		Registry: ix.Registry,
		Locales:  provider,
		Encoders: phonetic.DefaultRegistry(),
		Source:   src,
		Reporter: reporter,
		Metrics:  m,
	}
	if cfg.Index.SnapshotDir != "" {
		store, err := snapshot.NewStore(cfg.Index.SnapshotDir)
		if err != nil {
			return nil, err
		}
		ix.Snapshots = store
		deps.Store = store
	}
	coord, err := rebuild.New(rebuild.Config{
		Locales:           locales,
		MaxAttempts:       cfg.Rebuild.MaxAttempts,
		InitialBackoff:    cfg.Rebuild.InitialBackoff,
		MaxBackoff:        cfg.Rebuild.MaxBackoff,
		BuildTimeout:      cfg.Rebuild.BuildTimeout,
		Workers:           cfg.Rebuild.Workers,
		DegradedThreshold: cfg.Index.DegradedThreshold,
		CodeCacheSize:     cfg.Rebuild.CodeCacheSize,
	}, deps)
	if err != nil {
		if ix.Snapshots != nil {
			_ = ix.Snapshots.Close()
		}
		return nil, err
	}
	ix.Coordinator = coord
	return ix, nil
}
