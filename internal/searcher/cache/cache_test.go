package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func result(version uint64) *matcher.Result {
	return &matcher.Result{
		Locale:    "en",
		Version:   version,
		Query:     "aple pie",
		Tokens:    []string{"aple", "pie"},
		TotalHits: 1,
		Matches:   []matcher.Match{{FoodID: "f1", Score: 1.3}},
	}
}

func TestKey(t *testing.T) {
	k := Key("en", 1, []string{"apple", "pie"}, 20)
	assert.True(t, strings.HasPrefix(k, "search:en:"))
	assert.Equal(t, k, Key("en", 1, []string{"apple", "pie"}, 20))
	assert.NotEqual(t, k, Key("en", 2, []string{"apple", "pie"}, 20), "version is part of the key")
	assert.NotEqual(t, k, Key("en", 1, []string{"apple", "pie"}, 10))
	assert.NotEqual(t, k, Key("en", 1, []string{"applepie"}, 20))
	assert.NotEqual(t, k, Key("fr", 1, []string{"apple", "pie"}, 20))
}

func TestGetOrCompute(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	c := New(newMemStore(), time.Minute, m)
	ctx := context.Background()
	key := Key("en", 1, []string{"aple", "pie"}, 20)

	var calls atomic.Int32
	compute := func(context.Context) (*matcher.Result, error) {
		calls.Add(1)
		return result(1), nil
	}

	r, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "f1", r.Matches[0].FoodID)

	r, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, result(1), r)
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestComputeErrorNotCached(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	key := Key("en", 1, []string{"x"}, 20)
	_, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*matcher.Result, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	r, hit, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*matcher.Result, error) {
		return result(1), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, r)
}

func TestBackendOutageDegradesToMiss(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := New(store, time.Minute, nil)
	key := Key("en", 1, []string{"x"}, 20)

	for range 10 {
		r, hit, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*matcher.Result, error) {
			return result(1), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.NotNil(t, r)
	}
	assert.Equal(t, "open", c.breaker.GetState().String())
}

func TestFollowersSurviveLeaderCancellation(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	key := Key("en", 1, []string{"aple"}, 20)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (*matcher.Result, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return result(1), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, key, compute)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		r   *matcher.Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		r, _, err := c.GetOrCompute(context.Background(), key, compute)
		follower <- outcome{r, err}
	}()

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	// give the follower time to join the in-flight computation
	time.Sleep(20 * time.Millisecond)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "f1", got.r.Matches[0].FoodID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	for _, loc := range []string{"en", "fr"} {
		_, _, err := c.GetOrCompute(ctx, Key(loc, 1, []string{"x"}, 20), func(context.Context) (*matcher.Result, error) {
			return result(1), nil
		})
		require.NoError(t, err)
	}

	n, err := c.Invalidate(ctx, "en")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Invalidate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
