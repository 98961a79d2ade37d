// Package phonetic provides the per-language phonetic encoders used to
// match misspelled or homophonous query tokens against indexed food
// descriptions.
//
// An Encoder maps one normalized token to zero or more phonetic codes.
// Encoders are pure: the same token always yields the same codes, they do
// no I/O and they never fail. Tokens that cannot be encoded (empty strings,
// pure numerals, scripts the encoder does not handle) yield no codes.
//
// Encoders are selected by identifier through a Registry, once per index
// rebuild:
//
//	double-metaphone  primary and alternate Double Metaphone keys
//	nysiis            NYSIIS key
//	soundex           Soundex key
//	snowball-<lang>   stem key for inflected languages
//	pinyin            toneless Mandarin syllables, one code per reading
//	kana              Japanese reading folded to hiragana
//	none              no phonetic candidates
package phonetic

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
)

// Encoder turns a normalized token into phonetic codes.
type Encoder interface {
	Name() string
	Encode(token string) []string
}

// Factory constructs an Encoder. Factories may load dictionaries and are
// therefore only called when a locale is (re)built.
type Factory func() (Encoder, error)

// Registry maps encoder identifiers to factories. Constructed encoders are
// shared between locales that select the same identifier.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	built     map[string]Encoder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		built:     make(map[string]Encoder),
	}
}

// DefaultRegistry returns a Registry with every built-in encoder.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NoneName, func() (Encoder, error) { return None{}, nil })
	r.Register(DoubleMetaphoneName, func() (Encoder, error) { return DoubleMetaphone{}, nil })
	r.Register(NYSIISName, func() (Encoder, error) { return NYSIIS{}, nil })
	r.Register(SoundexName, func() (Encoder, error) { return Soundex{}, nil })
	for _, lang := range SnowballLanguages() {
		r.Register(snowballPrefix+lang, func() (Encoder, error) { return NewSnowball(lang) })
	}
	r.Register(PinyinName, func() (Encoder, error) { return NewPinyin(DefaultMaxReadings), nil })
	r.Register(KanaName, func() (Encoder, error) { return NewKana() })
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.built, name)
}

// Lookup returns the encoder registered under name, constructing it on
// first use. An empty name selects the none encoder.
func (r *Registry) Lookup(name string) (Encoder, error) {
	if name == "" {
		name = NoneName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if enc, ok := r.built[name]; ok {
		return enc, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown encoder %q", apperrors.ErrEncoderMisconfigured, name)
	}
	enc, err := f()
	if err != nil {
		return nil, fmt.Errorf("%w: constructing %q: %w", apperrors.ErrEncoderMisconfigured, name, err)
	}
	r.built[name] = enc
	return enc, nil
}

// Names lists the registered identifiers in lexical order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoneName identifies the encoder that produces no codes.
const NoneName = "none"

// None is the encoder for locales without phonetic matching.
type None struct{}

func (None) Name() string { return NoneName }

func (None) Encode(string) []string { return nil }

// isNumeric reports whether token contains no letters. Such tokens
// ("100", "2.5") have no pronunciation worth matching on.
func isNumeric(token string) bool {
	for _, r := range token {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// asciiLetters keeps only the ASCII letters of token, upper-cased, which is
// the input alphabet of the Latin-script encoders.
func asciiLetters(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// uniqueNonEmpty returns codes without empties and duplicates, keeping the
// first occurrence order.
func uniqueNonEmpty(codes ...string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
