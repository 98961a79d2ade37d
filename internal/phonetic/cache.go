package phonetic

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEncoder memoizes another encoder's codes per token. Encoders are
// pure, so cached codes never go stale. Returned slices are shared and
// must not be modified.
type CachedEncoder struct {
	inner Encoder
	cache *lru.Cache[string, []string]
}

// Cached wraps enc in an LRU of the given size. A non-positive size
// returns enc unchanged.
func Cached(enc Encoder, size int) Encoder {
	if size <= 0 {
		return enc
	}
	if _, ok := enc.(*CachedEncoder); ok {
		return enc
	}
	c, err := lru.New[string, []string](size)
	if err != nil {
		return enc
	}
	return &CachedEncoder{inner: enc, cache: c}
}

func (c *CachedEncoder) Name() string { return c.inner.Name() }

func (c *CachedEncoder) Encode(token string) []string {
	if codes, ok := c.cache.Get(token); ok {
		return codes
	}
	codes := c.inner.Encode(token)
	c.cache.Add(token, codes)
	return codes
}

// Unwrap returns the memoized encoder.
func (c *CachedEncoder) Unwrap() Encoder {
	return c.inner
}
