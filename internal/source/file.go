package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/foodsearch/foodsearch/internal/index"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
)

// LocalePlaceholder in a File path is replaced by the requested locale.
const LocalePlaceholder = "{locale}"

// File reads records from a JSON array or JSON-lines file. The file is
// re-read on every fetch. Records without a locale are attributed to the
// requested one; records of other locales are left out.
type File struct {
	path string
}

// NewFile returns a source for path, which may contain LocalePlaceholder.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) FetchFoodRecords(ctx context.Context, locale string) ([]index.FoodRecord, error) {
	path := strings.ReplaceAll(f.path, LocalePlaceholder, locale)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrSourceUnavailable, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := all[:0]
	for _, r := range all {
		if r.Locale == "" {
			r.Locale = locale
		}
		if r.Locale == locale {
			out = append(out, r)
		}
	}
	return out, nil
}

// ParseRecords decodes a JSON array of records or one record per line.
// Blank lines are ignored.
func ParseRecords(data []byte) ([]index.FoodRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []index.FoodRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parsing record array: %w", err)
		}
		return records, nil
	}

	var records []index.FoodRecord
	r := bufio.NewReader(bytes.NewReader(trimmed))
	for line := 1; ; line++ {
		raw, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			var rec index.FoodRecord
			if jerr := json.Unmarshal(raw, &rec); jerr != nil {
				return nil, fmt.Errorf("parsing record on line %d: %w", line, jerr)
			}
			records = append(records, rec)
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
