// Package ratelimit is a per-key token bucket limiter. Buckets of idle
// keys expire from a bounded LRU instead of being swept by a goroutine.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxKeys = 10000

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter allows Limit requests per Window for each key, refilled
// continuously.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets *expirable.LRU[string, *bucket]
	now     func() time.Time
}

// New creates a Limiter. A bucket unused for two windows is forgotten,
// which is equivalent to it being full.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: expirable.NewLRU[string, *bucket](defaultMaxKeys, nil, 2*window),
		now:     time.Now,
	}
}

// Allow consumes one token of key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets.Get(key)
	if !ok {
		l.buckets.Add(key, &bucket{tokens: float64(l.limit - 1), lastCheck: now})
		return true
	}
	rate := float64(l.limit) / l.window.Seconds()
	b.tokens = min(float64(l.limit), b.tokens+now.Sub(b.lastCheck).Seconds()*rate)
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is how long a drained key waits for its next token.
func (l *Limiter) RetryAfter() time.Duration {
	return time.Duration(float64(l.window) / float64(l.limit))
}

// Reset forgets the bucket of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}
