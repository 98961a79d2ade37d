package dictionary

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// splitHan emits every Han character of s as its own token and keeps runs
// of other characters together.
func splitHan(s string) []string {
	var out []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			flush()
			out = append(out, string(r))
			continue
		}
		run.WriteRune(r)
	}
	flush()
	return out
}

// newTransliterator builds the replacer for a locale's character
// substitutions. Keys must not be plain ASCII (diacritic folding produces
// ASCII and would feed it back into the table on re-normalization) and
// values must not contain keys.
func newTransliterator(table map[string]string) (*strings.Replacer, error) {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(table)*2)
	for _, k := range keys {
		lk := lowerText(k)
		if lk == "" || isASCII(lk) {
			return nil, fmt.Errorf("transliteration key %q must contain a non-ASCII character", k)
		}
		v := lowerText(table[k])
		for _, other := range keys {
			if strings.Contains(v, lowerText(other)) {
				return nil, fmt.Errorf("transliteration %q -> %q reintroduces %q", k, v, other)
			}
		}
		pairs = append(pairs, lk, v)
	}
	return strings.NewReplacer(pairs...), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	sorted := make([]string, len(in))
	copy(sorted, in)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
