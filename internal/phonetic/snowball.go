package phonetic

import (
	"fmt"

	"github.com/kljensen/snowball"
)

const snowballPrefix = "snowball-"

// SnowballLanguages lists the languages with a snowball-<lang> encoder.
func SnowballLanguages() []string {
	return []string{"english", "french", "hungarian", "norwegian", "russian", "spanish", "swedish"}
}

// Snowball uses the Snowball stem of a token as its phonetic key so that
// inflected forms ("tomates", "tomate") share a posting. It suits
// languages where inflection, not spelling, is the main source of
// query/description mismatch.
type Snowball struct {
	language string
}

// NewSnowball returns the stem-key encoder for language.
func NewSnowball(language string) (*Snowball, error) {
	if _, err := snowball.Stem("test", language, true); err != nil {
		return nil, fmt.Errorf("snowball language %q: %w", language, err)
	}
	return &Snowball{language: language}, nil
}

func (s *Snowball) Name() string { return snowballPrefix + s.language }

func (s *Snowball) Encode(token string) []string {
	if token == "" || isNumeric(token) {
		return nil
	}
	stem, err := snowball.Stem(token, s.language, true)
	if err != nil {
		return nil
	}
	return uniqueNonEmpty(stem)
}
