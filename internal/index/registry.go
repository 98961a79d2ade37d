package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry holds the current Index of every locale. Current is a lock-free
// pointer load; Publish swaps the pointer, so a reader sees either the old
// or the new Index and never anything in between.
type Registry struct {
	mu    sync.Mutex
	slots sync.Map // locale -> *atomic.Pointer[Index]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) slot(locale string) *atomic.Pointer[Index] {
	if s, ok := r.slots.Load(locale); ok {
		return s.(*atomic.Pointer[Index])
	}
	s, _ := r.slots.LoadOrStore(locale, new(atomic.Pointer[Index]))
	return s.(*atomic.Pointer[Index])
}

// Current returns the published Index for locale, or nil.
func (r *Registry) Current(locale string) *Index {
	s, ok := r.slots.Load(locale)
	if !ok {
		return nil
	}
	return s.(*atomic.Pointer[Index]).Load()
}

// Publish makes idx the current Index of its locale. Versions must strictly
// increase per locale.
func (r *Registry) Publish(idx *Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slot(idx.LocaleID())
	if cur := s.Load(); cur != nil && idx.Version() <= cur.Version() {
		return fmt.Errorf("%w: locale %s has version %d, got %d",
			ErrStaleVersion, idx.LocaleID(), cur.Version(), idx.Version())
	}
	s.Store(idx)
	return nil
}

// Locales returns the locales with a published Index, sorted.
func (r *Registry) Locales() []string {
	var out []string
	r.slots.Range(func(k, v any) bool {
		if v.(*atomic.Pointer[Index]).Load() != nil {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}
