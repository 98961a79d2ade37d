package phonetic

import "github.com/antzucaro/matchr"

const (
	DoubleMetaphoneName = "double-metaphone"
	NYSIISName          = "nysiis"
	SoundexName         = "soundex"
)

// DoubleMetaphone reduces a token to consonant classes using the Double
// Metaphone algorithm. Both the primary and the alternate key are returned
// so that ambiguous spellings ("smith"/"schmidt") meet on either.
type DoubleMetaphone struct{}

func (DoubleMetaphone) Name() string { return DoubleMetaphoneName }

func (DoubleMetaphone) Encode(token string) []string {
	if isNumeric(token) {
		return nil
	}
	letters := asciiLetters(token)
	if letters == "" {
		return nil
	}
	primary, alternate := matchr.DoubleMetaphone(letters)
	return uniqueNonEmpty(primary, alternate)
}

// NYSIIS encodes with the New York State Identification and Intelligence
// System key, which keeps more vowel information than Soundex.
type NYSIIS struct{}

func (NYSIIS) Name() string { return NYSIISName }

func (NYSIIS) Encode(token string) []string {
	if isNumeric(token) {
		return nil
	}
	letters := asciiLetters(token)
	if letters == "" {
		return nil
	}
	return uniqueNonEmpty(matchr.NYSIIS(letters))
}

// Soundex encodes with the classic four-character Soundex key.
type Soundex struct{}

func (Soundex) Name() string { return SoundexName }

func (Soundex) Encode(token string) []string {
	if isNumeric(token) {
		return nil
	}
	letters := asciiLetters(token)
	if letters == "" {
		return nil
	}
	return uniqueNonEmpty(matchr.Soundex(letters))
}
