// Package cache memoizes search results in Redis. Keys embed the index
// version, so publishing a new index makes older entries unreachable and
// they simply age out.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/foodsearch/foodsearch/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix      = "search:"
	maxComputeTime = 10 * time.Second
)

// Store is the key-value backend; pkg/redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache is a read-through result cache. Backend failures degrade to
// misses; after repeated failures a circuit breaker skips the backend
// entirely until it recovers.
type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cbCfg := resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
	if m != nil {
		cbCfg.OnStateChange = func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		}
	}
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", cbCfg),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key identifies a result by locale, index version, normalized tokens and
// effective limit. tokens must already be normalized.
func Key(locale string, version uint64, tokens []string, limit int) string {
	raw := fmt.Sprintf("%d\x00%s\x00%d", version, strings.Join(tokens, "\x1f"), limit)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, locale, sum[:16])
}

// GetOrCompute returns the cached result for key or runs compute once per
// key across concurrent callers and stores its result. The bool reports a
// cache hit.
//
// compute runs detached from the cancellation of whichever caller started
// it, bounded by that caller's deadline, so one caller going away does not
// fail the others waiting on the same key. A caller whose own ctx ends
// stops waiting and gets ctx.Err().
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (*matcher.Result, error)) (*matcher.Result, bool, error) {
	if r, ok := c.get(ctx, key); ok {
		c.hit()
		return r, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := detach(ctx)
		defer cancel()
		if r, ok := c.get(fctx, key); ok {
			return r, nil
		}
		r, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		c.set(fctx, key, r)
		return r, nil
	})
	c.miss()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*matcher.Result), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// detach drops ctx's cancellation but keeps its deadline, or
// maxComputeTime when it has none.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(maxComputeTime)
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

// Invalidate drops every cached result of locale, or of all locales when
// locale is empty.
func (c *QueryCache) Invalidate(ctx context.Context, locale string) (int64, error) {
	pattern := keyPrefix + "*"
	if locale != "" {
		pattern = keyPrefix + locale + ":*"
	}
	n, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return n, fmt.Errorf("invalidating cache %s: %w", pattern, err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", n)
	return n, nil
}

// Stats returns the hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) get(ctx context.Context, key string) (*matcher.Result, bool) {
	var data []byte
	var found bool
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		data, found, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Debug("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var r matcher.Result
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &r, true
}

func (c *QueryCache) set(ctx context.Context, key string, r *matcher.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
