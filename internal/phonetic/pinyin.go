package phonetic

import (
	"strings"

	"github.com/mozillazg/go-pinyin"
)

const PinyinName = "pinyin"

// DefaultMaxReadings caps the number of codes produced for one token when
// several of its characters are heteronyms.
const DefaultMaxReadings = 8

// Pinyin encodes Han text by decomposing every character into its Mandarin
// syllable and tone, then dropping the tone. Heteronyms contribute one
// code per distinct reading, so "行" yields both "xing" and "hang".
// Multi-character tokens produce the syllables joined by "-", expanded
// over the readings of each character up to maxReadings codes.
type Pinyin struct {
	args        pinyin.Args
	maxReadings int
}

// NewPinyin returns a pinyin encoder producing at most maxReadings codes
// per token.
func NewPinyin(maxReadings int) *Pinyin {
	if maxReadings <= 0 {
		maxReadings = DefaultMaxReadings
	}
	args := pinyin.NewArgs()
	args.Style = pinyin.Tone3
	args.Heteronym = true
	return &Pinyin{args: args, maxReadings: maxReadings}
}

func (p *Pinyin) Name() string { return PinyinName }

func (p *Pinyin) Encode(token string) []string {
	if token == "" {
		return nil
	}
	perChar := pinyin.Pinyin(token, p.args)
	if len(perChar) == 0 {
		return nil
	}
	combos := []string{""}
	for _, readings := range perChar {
		syllables := make([]string, 0, len(readings))
		for _, r := range readings {
			syllable, _ := splitTone(r)
			syllables = appendUnique(syllables, syllable)
		}
		if len(syllables) == 0 {
			continue
		}
		next := make([]string, 0, len(combos)*len(syllables))
		for _, prefix := range combos {
			for _, s := range syllables {
				if len(next) == p.maxReadings {
					break
				}
				if prefix == "" {
					next = append(next, s)
				} else {
					next = append(next, prefix+"-"+s)
				}
			}
		}
		combos = next
	}
	return uniqueNonEmpty(combos...)
}

// splitTone separates a Tone3 syllable ("guo3") into its toneless
// syllable and tone number. Neutral-tone syllables report tone 0.
func splitTone(reading string) (string, int) {
	reading = strings.ToLower(reading)
	if n := len(reading); n > 0 && reading[n-1] >= '1' && reading[n-1] <= '5' {
		return reading[:n-1], int(reading[n-1] - '0')
	}
	return reading, 0
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
