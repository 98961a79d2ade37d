package snapshot

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/foodsearch/foodsearch/internal/index"
)

// File layout:
//
//	[0:64)          header
//	[64:64+N)       zstd-compressed JSON payload
//	[64+N:64+N+16)  footer
const (
	Magic                = "FIDX"
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileExt              = ".fidx"

	// MaxPayloadSize bounds the decompressed payload of one snapshot.
	MaxPayloadSize uint64 = 1 << 30
)

// Header describes a snapshot without decoding its payload.
type Header struct {
	FormatVersion uint32
	IndexVersion  uint64
	EntryCount    uint32
	CreatedAt     time.Time
	BuiltAt       time.Time
	PayloadOffset int64
	PayloadSize   int64
}

type payload struct {
	LocaleID string             `json:"localeId"`
	Version  uint64             `json:"version"`
	Stats    index.BuildStats   `json:"stats"`
	Entries  []index.IndexEntry `json:"entries"`
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.IndexVersion)
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.CreatedAt.Unix()))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(h.PayloadOffset))
	binary.LittleEndian.PutUint64(buf[36:44], uint64(h.PayloadSize))
	binary.LittleEndian.PutUint64(buf[44:52], uint64(h.BuiltAt.UnixNano()))
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		FormatVersion: binary.LittleEndian.Uint32(buf[4:8]),
		IndexVersion:  binary.LittleEndian.Uint64(buf[8:16]),
		EntryCount:    binary.LittleEndian.Uint32(buf[16:20]),
		CreatedAt:     time.Unix(int64(binary.LittleEndian.Uint64(buf[20:28])), 0).UTC(),
		PayloadOffset: int64(binary.LittleEndian.Uint64(buf[28:36])),
		PayloadSize:   int64(binary.LittleEndian.Uint64(buf[36:44])),
		BuiltAt:       time.Unix(0, int64(binary.LittleEndian.Uint64(buf[44:52]))).UTC(),
	}
}

func encodeFooter(checksum uint32, rawSize int) []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(buf[0:4], checksum)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(rawSize))
	return buf
}

func decodeFooter(buf []byte) (checksum uint32, rawSize uint64) {
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint64(buf[4:12])
}

// payloadChecksum covers the compressed payload and the footer fields
// after the checksum itself.
func payloadChecksum(compressed, footer []byte) uint32 {
	sum := crc32.ChecksumIEEE(compressed)
	return crc32.Update(sum, crc32.IEEETable, footer[4:])
}
