package phonetic

import (
	"fmt"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

const KanaName = "kana"

// Kana encodes Japanese tokens by their reading: the token is analysed
// morphologically, each morpheme's katakana reading is taken (or its
// surface when it is already kana), and the concatenation is folded to
// hiragana with long-vowel marks dropped and small kana enlarged. Kanji
// and kana spellings of the same word therefore share a code.
type Kana struct {
	tok *tokenizer.Tokenizer
}

// NewKana loads the IPA dictionary and returns the encoder.
func NewKana() (*Kana, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("loading kagome tokenizer: %w", err)
	}
	return &Kana{tok: t}, nil
}

func (k *Kana) Name() string { return KanaName }

func (k *Kana) Encode(token string) []string {
	if token == "" || isNumeric(token) {
		return nil
	}
	var reading strings.Builder
	for _, morpheme := range k.tok.Tokenize(token) {
		if r, ok := morpheme.Reading(); ok && r != "*" && r != "" {
			reading.WriteString(r)
			continue
		}
		if isKanaString(morpheme.Surface) {
			reading.WriteString(morpheme.Surface)
		}
	}
	return uniqueNonEmpty(FoldKana(reading.String()))
}

// Segment splits Japanese text into morpheme surfaces. It is used as the
// word segmenter for locales without whitespace between words.
func (k *Kana) Segment(text string) []string {
	morphemes := k.tok.Tokenize(text)
	out := make([]string, 0, len(morphemes))
	for _, m := range morphemes {
		if s := strings.TrimSpace(m.Surface); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var smallKana = map[rune]rune{
	'ぁ': 'あ', 'ぃ': 'い', 'ぅ': 'う', 'ぇ': 'え', 'ぉ': 'お',
	'ゃ': 'や', 'ゅ': 'ゆ', 'ょ': 'よ', 'ゎ': 'わ', 'っ': 'つ',
}

// FoldKana converts katakana to hiragana, enlarges small kana and drops
// the prolonged sound mark.
func FoldKana(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 'ー' {
			continue
		}
		if r >= 0x30A1 && r <= 0x30F6 {
			r -= 0x60
		}
		if big, ok := smallKana[r]; ok {
			r = big
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isKanaString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		isHiragana := r >= 0x3040 && r <= 0x309F
		isKatakana := r >= 0x30A0 && r <= 0x30FF
		if !isHiragana && !isKatakana {
			return false
		}
	}
	return true
}
