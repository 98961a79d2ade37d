// Package snapshot persists published indices so a restarted service can
// serve search before its first rebuild completes.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/foodsearch/foodsearch/internal/index"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNotFound means no snapshot exists for the locale.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt means the file exists but cannot be trusted.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Store reads and writes one snapshot file per locale in a directory.
type Store struct {
	dir    string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
}

// NewStore creates the directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Store{
		dir:    dir,
		enc:    enc,
		dec:    dec,
		logger: slog.Default().With("component", "snapshot-store"),
	}, nil
}

// Close releases the codec resources.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the snapshot file of locale.
func (s *Store) Path(locale string) string {
	return filepath.Join(s.dir, locale+FileExt)
}

// Save writes idx to a temporary file and renames it over the previous
// snapshot, so a crash never leaves a partially written snapshot behind.
func (s *Store) Save(idx *index.Index) error {
	raw, err := json.Marshal(payload{
		LocaleID: idx.LocaleID(),
		Version:  idx.Version(),
		Stats:    idx.Stats(),
		Entries:  idx.Entries(),
	})
	if err != nil {
		return fmt.Errorf("marshaling snapshot payload: %w", err)
	}
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	header := encodeHeader(Header{
		FormatVersion: FormatVersion,
		IndexVersion:  idx.Version(),
		EntryCount:    uint32(idx.Len()),
		CreatedAt:     time.Now(),
		BuiltAt:       idx.BuiltAt(),
		PayloadOffset: int64(HeaderSize),
		PayloadSize:   int64(len(compressed)),
	})
	footer := encodeFooter(0, len(raw))
	binary.LittleEndian.PutUint32(footer[0:4], payloadChecksum(compressed, footer))

	finalPath := s.Path(idx.LocaleID())
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer f.Close()

	for _, part := range [][]byte{header, compressed, footer} {
		if _, err := f.Write(part); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	s.logger.Info("snapshot saved",
		"locale", idx.LocaleID(),
		"version", idx.Version(),
		"entries", idx.Len(),
		"bytes", len(header)+len(compressed)+len(footer),
	)
	return nil
}

// Load reconstructs the snapshot of locale.
func (s *Store) Load(locale string) (*index.Index, error) {
	data, h, err := s.read(locale)
	if err != nil {
		return nil, err
	}
	compressed := data[h.PayloadOffset : h.PayloadOffset+h.PayloadSize]
	footer := data[len(data)-FooterSize:]
	checksum, rawSize := decodeFooter(footer)
	if payloadChecksum(compressed, footer) != checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, locale)
	}
	if rawSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s: payload size %d exceeds %d", ErrCorrupt, locale, rawSize, MaxPayloadSize)
	}
	raw, err := s.dec.DecodeAll(compressed, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decompressing: %v", ErrCorrupt, locale, err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: parsing payload: %v", ErrCorrupt, locale, err)
	}
	if p.LocaleID != locale || p.Version != h.IndexVersion {
		return nil, fmt.Errorf("%w: %s: payload is %s v%d, header says v%d",
			ErrCorrupt, locale, p.LocaleID, p.Version, h.IndexVersion)
	}
	idx, err := index.FromEntries(p.LocaleID, p.Version, h.BuiltAt, p.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, locale, err)
	}
	return idx, nil
}

// Inspect returns the header of locale's snapshot without decoding entries.
func (s *Store) Inspect(locale string) (Header, error) {
	_, h, err := s.read(locale)
	return h, err
}

// Locales lists the locales that have a snapshot file.
func (s *Store) Locales() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+FileExt))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), FileExt))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) read(locale string) ([]byte, Header, error) {
	data, err := os.ReadFile(s.Path(locale))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Header{}, fmt.Errorf("%w: %s", ErrNotFound, locale)
	}
	if err != nil {
		return nil, Header{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, Header{}, fmt.Errorf("%w: %s: truncated", ErrCorrupt, locale)
	}
	if string(data[0:4]) != Magic {
		return nil, Header{}, fmt.Errorf("%w: %s: bad magic %q", ErrCorrupt, locale, data[0:4])
	}
	h := decodeHeader(data[:HeaderSize])
	if h.FormatVersion != FormatVersion {
		return nil, Header{}, fmt.Errorf("%w: %s: unsupported format version %d", ErrCorrupt, locale, h.FormatVersion)
	}
	if h.PayloadOffset != int64(HeaderSize) || h.PayloadOffset+h.PayloadSize+int64(FooterSize) != int64(len(data)) {
		return nil, Header{}, fmt.Errorf("%w: %s: payload bounds do not match file size", ErrCorrupt, locale)
	}
	return data, h, nil
}
