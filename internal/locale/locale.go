// Package locale loads per-locale text-processing rules: the phonetic
// encoder to use, minimum token length, segmentation, diacritic folding,
// stop words and synonym groups.
//
// Locale definitions live in a YAML file that is re-read on every Load,
// so one index rebuild always sees one consistent definition and edits
// take effect on the next rebuild.
package locale

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Segmentation selects how raw text is split into candidate tokens.
type Segmentation string

const (
	// SegmentWords splits on whitespace and punctuation.
	SegmentWords Segmentation = "words"

	// SegmentHan additionally makes every Han character its own token.
	SegmentHan Segmentation = "han"

	// SegmentMorphological delegates segmentation to the locale's encoder
	// (used for Japanese).
	SegmentMorphological Segmentation = "morphological"
)

// Config is the definition of one locale.
type Config struct {
	ID             string            `yaml:"-"`
	Encoder        string            `yaml:"encoder"`
	MinTokenLength int               `yaml:"minTokenLength"`
	Segmentation   Segmentation      `yaml:"segmentation"`
	FoldDiacritics *bool             `yaml:"foldDiacritics"`
	Transliterate  map[string]string `yaml:"transliterate"`
	StopWords      []string          `yaml:"stopWords"`
	Synonyms       [][]string        `yaml:"synonyms"`
}

// FoldsDiacritics reports whether combining marks are stripped; the
// default is true.
func (c Config) FoldsDiacritics() bool {
	return c.FoldDiacritics == nil || *c.FoldDiacritics
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MinTokenLength <= 0 {
		c.MinTokenLength = 1
	}
	if c.Segmentation == "" {
		c.Segmentation = SegmentWords
	}
	if c.Encoder == "" {
		c.Encoder = "none"
	}
	return c
}

// Validate rejects definitions a Dictionary cannot be built from.
func (c Config) Validate() error {
	switch c.Segmentation {
	case SegmentWords, SegmentHan, SegmentMorphological, "":
	default:
		return fmt.Errorf("%w: locale %s: unknown segmentation %q", apperrors.ErrInvalidInput, c.ID, c.Segmentation)
	}
	for i, group := range c.Synonyms {
		if len(group) < 2 {
			return fmt.Errorf("%w: locale %s: synonym group %d needs at least two members", apperrors.ErrInvalidInput, c.ID, i)
		}
	}
	return nil
}

// Provider supplies locale definitions.
type Provider interface {
	Load(ctx context.Context, id string) (Config, error)
	IDs(ctx context.Context) ([]string, error)
}

type fileFormat struct {
	Locales map[string]Config `yaml:"locales"`
}

// FileProvider reads definitions from a YAML file on every call.
type FileProvider struct {
	path string
}

// NewFileProvider returns a provider for the YAML file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the watched file.
func (p *FileProvider) Path() string {
	return p.path
}

func (p *FileProvider) read() (map[string]Config, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading locales file %s: %w", p.path, err)
	}
	return Parse(data)
}

// Load returns the definition of locale id.
func (p *FileProvider) Load(_ context.Context, id string) (Config, error) {
	all, err := p.read()
	if err != nil {
		return Config{}, err
	}
	cfg, ok := all[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, id)
	}
	return cfg, nil
}

// IDs lists the configured locales in lexical order.
func (p *FileProvider) IDs(_ context.Context) ([]string, error) {
	all, err := p.read()
	if err != nil {
		return nil, err
	}
	return sortedIDs(all), nil
}

// Parse decodes a locales document and validates every entry.
func Parse(data []byte) (map[string]Config, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing locales: %w", err)
	}
	if len(doc.Locales) == 0 {
		return nil, errors.New("parsing locales: no locales defined")
	}
	out := make(map[string]Config, len(doc.Locales))
	for id, cfg := range doc.Locales {
		cfg.ID = id
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out[id] = cfg.WithDefaults()
	}
	return out, nil
}

// StaticProvider serves a fixed set of definitions. Definitions can be
// replaced with Set, which tests use to simulate configuration edits.
type StaticProvider struct {
	mu      sync.RWMutex
	locales map[string]Config
}

// NewStaticProvider returns a provider over cfgs keyed by their ID.
func NewStaticProvider(cfgs ...Config) *StaticProvider {
	p := &StaticProvider{locales: make(map[string]Config, len(cfgs))}
	for _, c := range cfgs {
		p.locales[c.ID] = c.WithDefaults()
	}
	return p
}

// Set adds or replaces a definition.
func (p *StaticProvider) Set(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locales[cfg.ID] = cfg.WithDefaults()
}

func (p *StaticProvider) Load(_ context.Context, id string) (Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.locales[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownLocale, id)
	}
	return cfg, nil
}

func (p *StaticProvider) IDs(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedIDs(p.locales), nil
}

func sortedIDs(m map[string]Config) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
