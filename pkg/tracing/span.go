// Package tracing records lightweight span trees carried in a context.
// A finished tree is written to slog, one record per span, so the phases of
// a long operation such as an index rebuild can be read back from the logs.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed phase. Children are appended by Child on a context
// derived from the span's.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Err      string

	mu       sync.Mutex
	attrs    []slog.Attr
	children []*Span
}

// Start opens a root span and returns a context carrying it.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// Child opens a span under the one carried by ctx. Without a parent the
// span is detached: it is timed but never logged.
func Child(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// FromContext returns the span carried by ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// End fixes the duration and records err, if any. It returns err so a
// phase can end with `return span.End(err)`.
func (s *Span) End(err error) error {
	s.mu.Lock()
	s.Duration = time.Since(s.Start)
	if err != nil {
		s.Err = err.Error()
	}
	s.mu.Unlock()
	return err
}

// Set attaches an attribute.
func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Children returns a copy of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the tree depth-first at debug level.
func (s *Span) Log(ctx context.Context, l *slog.Logger) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.log(ctx, l, 0)
}

func (s *Span) log(ctx context.Context, l *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]slog.Attr{
		slog.String("trace_id", s.TraceID),
		slog.String("span", s.Name),
		slog.Int("depth", depth),
		slog.Float64("duration_ms", float64(s.Duration.Microseconds())/1000),
	}, s.attrs...)
	if s.Err != "" {
		attrs = append(attrs, slog.String("error", s.Err))
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	for _, c := range children {
		c.log(ctx, l, depth+1)
	}
}
