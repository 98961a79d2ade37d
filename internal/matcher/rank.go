package matcher

import (
	"math"
	"sort"

	"github.com/foodsearch/foodsearch/internal/dictionary"
	"github.com/foodsearch/foodsearch/internal/index"
)

// Weights are the scoring coefficients.
type Weights struct {
	Exact         float64
	Synonym       float64
	Phonetic      float64
	LengthPenalty float64
}

// DefaultWeights rank exact over synonym over phonetic matches.
func DefaultWeights() Weights {
	return Weights{Exact: 1.0, Synonym: 0.6, Phonetic: 0.3, LengthPenalty: 0.05}
}

// Match is one ranked food.
type Match struct {
	FoodID         string   `json:"foodId"`
	Score          float64  `json:"score"`
	MatchedTokens  []string `json:"matchedTokens"`
	PopularityRank int      `json:"popularityRank"`
	ExactMatches   int      `json:"exactMatches"`
	SynonymMatches int      `json:"synonymMatches"`
	PhoneticOnly   int      `json:"phoneticMatches"`
}

// queryTerm is one base query token with everything it can match through.
type queryTerm struct {
	token    string
	synonyms []string
	codes    []string
}

func newQueryTerms(dict *dictionary.Dictionary, base []string) []queryTerm {
	terms := make([]queryTerm, len(base))
	for i, tok := range base {
		syns := dict.Synonyms(tok)
		terms[i] = queryTerm{
			token:    tok,
			synonyms: syns,
			codes:    dict.Phonetics(append([]string{tok}, syns...)),
		}
	}
	return terms
}

// score classifies every query term against e as exact, synonym or
// phonetic-only, taking the strongest kind per term, and applies the
// length-mismatch penalty.
func score(w Weights, terms []queryTerm, e *index.IndexEntry) (Match, bool) {
	m := Match{FoodID: e.FoodID, PopularityRank: e.PopularityRank}
	for _, t := range terms {
		switch {
		case contains(e.BaseTokens, t.token):
			m.ExactMatches++
		case contains(e.Tokens, t.token) || containsAny(e.Tokens, t.synonyms):
			m.SynonymMatches++
		case containsAny(e.PhoneticCodes, t.codes):
			m.PhoneticOnly++
		default:
			continue
		}
		m.MatchedTokens = append(m.MatchedTokens, t.token)
	}
	matched := len(m.MatchedTokens)
	if matched == 0 {
		return Match{}, false
	}
	symDiff := len(terms) + len(e.BaseTokens) - 2*matched
	if symDiff < 0 {
		symDiff = 0
	}
	s := w.Exact*float64(m.ExactMatches) +
		w.Synonym*float64(m.SynonymMatches) +
		w.Phonetic*float64(m.PhoneticOnly) -
		w.LengthPenalty*float64(symDiff)
	m.Score = math.Round(s*10000) / 10000
	return m, true
}

// rank orders by score, then popularity, then food ID, and truncates.
func rank(matches []Match, limit int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PopularityRank != b.PopularityRank {
			return a.PopularityRank > b.PopularityRank
		}
		return a.FoodID < b.FoodID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// contains reports whether the sorted set holds s.
func contains(set []string, s string) bool {
	i := sort.SearchStrings(set, s)
	return i < len(set) && set[i] == s
}

func containsAny(set []string, candidates []string) bool {
	for _, c := range candidates {
		if contains(set, c) {
			return true
		}
	}
	return false
}
