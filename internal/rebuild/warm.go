package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Warm makes every configured locale servable before the service reports
// ready. A persisted snapshot is published when available and a background
// refresh is queued; otherwise the locale is rebuilt synchronously. Locales
// are warmed concurrently, bounded by the worker count. The returned error
// joins the failures of locales that could not be warmed.
func (c *Coordinator) Warm(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	var mu sync.Mutex
	var errs []error
	for _, l := range c.Locales() {
		g.Go(func() error {
			if err := c.warmLocale(gctx, l); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("locale %s: %w", l, err))
				mu.Unlock()
			}
			// a failed locale must not cancel the others
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) warmLocale(ctx context.Context, locale string) error {
	if c.deps.Store != nil {
		loaded, err := c.loadSnapshot(ctx, locale)
		if err == nil {
			c.logger.Info("serving snapshot until refresh completes", "locale", locale, "version", loaded)
			return c.RequestRebuild(locale)
		}
		c.logger.Warn("snapshot unusable, rebuilding", "locale", locale, "error", err)
	}
	_, err := c.RebuildSync(ctx, locale)
	return err
}

// loadSnapshot publishes the persisted index of locale, paired with a
// Dictionary built from the current locale definition.
func (c *Coordinator) loadSnapshot(ctx context.Context, locale string) (uint64, error) {
	idx, err := c.deps.Store.Load(locale)
	if err != nil {
		return 0, err
	}
	dict, err := c.dictionary(ctx, locale)
	if err != nil {
		return 0, err
	}
	st := c.states[locale]
	st.buildMu.Lock()
	defer st.buildMu.Unlock()
	if err := c.publish(idx.WithDictionary(dict)); err != nil {
		return 0, err
	}
	c.mu.Lock()
	if idx.Version() > st.lastVersion {
		st.lastVersion = idx.Version()
	}
	st.lastBuildAt = idx.BuiltAt()
	st.lastStats = idx.Stats()
	c.mu.Unlock()
	return idx.Version(), nil
}

// StartPeriodic requests a rebuild of every locale each interval until ctx
// is done. A non-positive interval disables the schedule.
func (c *Coordinator) StartPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logger.Info("periodic rebuild")
				c.RequestAll()
			}
		}
	}()
}
