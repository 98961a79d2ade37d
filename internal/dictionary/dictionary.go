// Package dictionary turns raw food descriptions and user queries into the
// canonical tokens, synonym expansions and phonetic codes the index is
// keyed on. The same Dictionary is used at build time and at query time;
// that symmetry is what makes lookups line up.
package dictionary

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/phonetic"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Segmenter splits text without word separators into words. Encoders that
// carry a morphological analyser implement it.
type Segmenter interface {
	Segment(text string) []string
}

// Dictionary normalizes text for one locale. It is immutable after New and
// safe for concurrent use.
type Dictionary struct {
	cfg       locale.Config
	encoder   phonetic.Encoder
	translit  *strings.Replacer
	fold      bool
	stopWords map[string]struct{}
	synonyms  map[string][]string
	segmenter Segmenter
}

// Analysis is the full derivation of one text.
type Analysis struct {
	// Base are the normalized tokens before synonym expansion.
	Base []string

	// Expanded are Base plus every synonym of every Base token.
	Expanded []string

	// Codes are the phonetic codes of Expanded.
	Codes []string
}

// New builds the Dictionary for cfg using enc as the locale's encoder.
func New(cfg locale.Config, enc phonetic.Encoder) (*Dictionary, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enc == nil {
		enc = phonetic.None{}
	}
	d := &Dictionary{
		cfg:       cfg,
		encoder:   enc,
		fold:      cfg.FoldsDiacritics(),
		stopWords: make(map[string]struct{}),
	}
	if len(cfg.Transliterate) > 0 {
		r, err := newTransliterator(cfg.Transliterate)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", cfg.ID, err)
		}
		d.translit = r
	}
	if cfg.Segmentation == locale.SegmentMorphological {
		d.segmenter = segmenterOf(enc)
		if d.segmenter == nil {
			return nil, fmt.Errorf("%w: locale %s: encoder %s cannot segment text", apperrors.ErrEncoderMisconfigured, cfg.ID, enc.Name())
		}
	}
	// stop words and synonym members go through the same pipeline as
	// descriptions so that they compare equal to normalized tokens
	for _, w := range cfg.StopWords {
		for _, tok := range d.tokens(w) {
			d.stopWords[tok] = struct{}{}
		}
	}
	d.synonyms = d.buildSynonyms(cfg.Synonyms)
	return d, nil
}

// Locale returns the locale ID.
func (d *Dictionary) Locale() string {
	return d.cfg.ID
}

// Encoder returns the locale's phonetic encoder.
func (d *Dictionary) Encoder() phonetic.Encoder {
	return d.encoder
}

// Normalize splits raw into canonical tokens: case and diacritics folded,
// transliterations applied, punctuation removed, short tokens and stop
// words dropped. Tokens containing a digit are kept regardless of length.
// The result is sorted and free of duplicates.
func (d *Dictionary) Normalize(raw string) []string {
	toks := d.tokens(raw)
	out := toks[:0]
	for _, tok := range toks {
		if _, stop := d.stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return sortedUnique(out)
}

// NormalizeText renders Normalize(raw) back to text.
func (d *Dictionary) NormalizeText(raw string) string {
	return strings.Join(d.Normalize(raw), " ")
}

// Expand returns tokens plus all their synonyms, sorted and unique.
func (d *Dictionary) Expand(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok)
		out = append(out, d.synonyms[tok]...)
	}
	return sortedUnique(out)
}

// Synonyms returns the other members of token's synonym group.
func (d *Dictionary) Synonyms(token string) []string {
	return d.synonyms[token]
}

// Encode returns the phonetic codes of a single token.
func (d *Dictionary) Encode(token string) []string {
	return d.encoder.Encode(token)
}

// Phonetics returns the union of the phonetic codes of tokens.
func (d *Dictionary) Phonetics(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		out = append(out, d.encoder.Encode(tok)...)
	}
	return sortedUnique(out)
}

// Analyze runs the whole pipeline over raw.
func (d *Dictionary) Analyze(raw string) Analysis {
	base := d.Normalize(raw)
	expanded := d.Expand(base)
	return Analysis{
		Base:     base,
		Expanded: expanded,
		Codes:    d.Phonetics(expanded),
	}
}

// tokens is Normalize without stop-word removal or deduplication.
func (d *Dictionary) tokens(raw string) []string {
	s := lowerText(raw)
	if d.translit != nil {
		s = d.translit.Replace(s)
	}
	s = lowerText(d.foldText(s))

	fields := strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
	var segments []string
	switch d.cfg.Segmentation {
	case locale.SegmentHan:
		for _, f := range fields {
			segments = append(segments, splitHan(f)...)
		}
	case locale.SegmentMorphological:
		for _, f := range fields {
			for _, m := range d.segmenter.Segment(f) {
				segments = append(segments, strings.FieldsFunc(m, func(r rune) bool { return !isWordRune(r) })...)
			}
		}
	default:
		segments = fields
	}

	out := make([]string, 0, len(segments))
	for _, tok := range segments {
		if len([]rune(tok)) < d.cfg.MinTokenLength && !hasDigit(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// foldText applies compatibility normalization and, when the locale folds
// diacritics, strips combining marks.
func (d *Dictionary) foldText(s string) string {
	if !d.fold {
		return norm.NFKC.String(s)
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFKC.String(s)
	}
	return folded
}

// lowerText lowercases s after compatibility normalization, so letters
// such as ℂ or ᴬ end up lowercase like their plain forms.
func lowerText(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFKC, cases.Lower(language.Und)), s)
	if err != nil {
		return strings.ToLower(norm.NFKC.String(s))
	}
	return out
}

// buildSynonyms merges groups sharing a member into one equivalence class
// and maps every member to the other members of its class. Merging makes
// expansion idempotent.
func (d *Dictionary) buildSynonyms(groups [][]string) map[string][]string {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, group := range groups {
		var members []string
		for _, raw := range group {
			toks := d.tokens(raw)
			if len(toks) != 1 {
				slog.Default().With("component", "dictionary", "locale", d.cfg.ID).
					Warn("ignoring synonym that is not a single token", "synonym", raw, "tokens", toks)
				continue
			}
			members = append(members, toks[0])
		}
		for _, m := range members {
			if _, ok := parent[m]; !ok {
				parent[m] = m
			}
		}
		for i := 1; i < len(members); i++ {
			union(members[0], members[i])
		}
	}

	classes := make(map[string][]string)
	for m := range parent {
		root := find(m)
		classes[root] = append(classes[root], m)
	}
	out := make(map[string][]string, len(parent))
	for _, members := range classes {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		for _, m := range members {
			others := make([]string, 0, len(members)-1)
			for _, o := range members {
				if o != m {
					others = append(others, o)
				}
			}
			out[m] = others
		}
	}
	return out
}

func segmenterOf(enc phonetic.Encoder) Segmenter {
	for enc != nil {
		if s, ok := enc.(Segmenter); ok {
			return s
		}
		u, ok := enc.(interface{ Unwrap() phonetic.Encoder })
		if !ok {
			return nil
		}
		enc = u.Unwrap()
	}
	return nil
}
