// Package index holds the immutable per-locale search index, the builder
// that produces it from food records and the registry that publishes it to
// readers.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/foodsearch/foodsearch/internal/dictionary"
)

// Index is the searchable form of one locale's food records. An Index is
// never modified after it is returned by Build or FromEntries, so readers
// may share it without locking. Slices returned by its methods must not be
// modified.
type Index struct {
	localeID         string
	version          uint64
	builtAt          time.Time
	stats            BuildStats
	dict             *dictionary.Dictionary
	entries          map[string]*IndexEntry
	tokenPostings    map[string][]string
	phoneticPostings map[string][]string
}

func newIndex(localeID string, version uint64, sizeHint int) *Index {
	return &Index{
		localeID:         localeID,
		version:          version,
		entries:          make(map[string]*IndexEntry, sizeHint),
		tokenPostings:    make(map[string][]string),
		phoneticPostings: make(map[string][]string),
	}
}

func (idx *Index) add(e *IndexEntry) {
	idx.entries[e.FoodID] = e
	for _, tok := range e.Tokens {
		idx.tokenPostings[tok] = append(idx.tokenPostings[tok], e.FoodID)
	}
	for _, code := range e.PhoneticCodes {
		idx.phoneticPostings[code] = append(idx.phoneticPostings[code], e.FoodID)
	}
}

// seal sorts every posting list. Entries are added in record order, so
// postings only need sorting once at the end of a build.
func (idx *Index) seal(builtAt time.Time) {
	for _, ids := range idx.tokenPostings {
		sort.Strings(ids)
	}
	for _, ids := range idx.phoneticPostings {
		sort.Strings(ids)
	}
	idx.builtAt = builtAt
}

func (idx *Index) LocaleID() string   { return idx.localeID }
func (idx *Index) Version() uint64    { return idx.version }
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }
func (idx *Index) Stats() BuildStats  { return idx.stats }
func (idx *Index) Len() int           { return len(idx.entries) }
func (idx *Index) TokenCount() int    { return len(idx.tokenPostings) }
func (idx *Index) PhoneticCount() int { return len(idx.phoneticPostings) }

// Dictionary returns the Dictionary the index was built with, which
// queries must be analyzed with. It is nil for an index restored by
// FromEntries until WithDictionary attaches one.
func (idx *Index) Dictionary() *dictionary.Dictionary { return idx.dict }

// WithDictionary returns a copy of idx that analyzes queries with dict.
// The copy shares entries and postings with idx.
func (idx *Index) WithDictionary(dict *dictionary.Dictionary) *Index {
	cp := *idx
	cp.dict = dict
	return &cp
}

// Entry returns the entry for foodID.
func (idx *Index) Entry(foodID string) (*IndexEntry, bool) {
	e, ok := idx.entries[foodID]
	return e, ok
}

// TokenPostings returns the sorted food IDs whose expanded tokens contain
// token.
func (idx *Index) TokenPostings(token string) []string {
	return idx.tokenPostings[token]
}

// PhoneticPostings returns the sorted food IDs carrying code.
func (idx *Index) PhoneticPostings(code string) []string {
	return idx.phoneticPostings[code]
}

// Entries returns all entries ordered by food ID.
func (idx *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoodID < out[j].FoodID })
	return out
}

// FromEntries reconstructs an Index from previously built entries without
// re-deriving tokens or phonetic codes.
func FromEntries(localeID string, version uint64, builtAt time.Time, entries []IndexEntry) (*Index, error) {
	idx := newIndex(localeID, version, len(entries))
	for i := range entries {
		e := entries[i]
		if e.FoodID == "" {
			return nil, fmt.Errorf("entry %d has no food id", i)
		}
		if _, dup := idx.entries[e.FoodID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.FoodID)
		}
		idx.add(&e)
	}
	idx.stats = BuildStats{Total: len(entries), Indexed: len(entries)}
	idx.seal(builtAt)
	return idx, nil
}
