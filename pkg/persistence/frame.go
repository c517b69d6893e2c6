package persistence

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/navigable/smallworld/pkg/core"
)

// Constants for the snapshot section framing.
const (
	// SectionMagic marks the start of a valid section. It helps detect
	// truncation and stream desynchronization on load.
	SectionMagic = 0xA5

	// sectionHeaderSize is the fixed size of the section metadata:
	// 1 byte (Magic) + 1 byte (Kind) + 8 bytes (RawLen) +
	// 8 bytes (CompLen) + 4 bytes (CRC32) = 22 bytes.
	sectionHeaderSize = 22

	// Section kinds, in the order they appear in a snapshot file.
	SectionLevels    = 0x01
	SectionVectors   = 0x02
	SectionAdjacency = 0x03
)

// Framing faults all classify as corrupt data so callers can treat any
// of them uniformly.
var (
	ErrInvalidMagic      = fmt.Errorf("%w: invalid section magic", core.ErrCorruptData)
	ErrChecksumMismatch  = fmt.Errorf("%w: crc32 checksum mismatch", core.ErrCorruptData)
	ErrIncompleteSection = fmt.Errorf("%w: incomplete section", core.ErrCorruptData)
	ErrSectionTooLarge   = fmt.Errorf("%w: section length exceeds limit", core.ErrCorruptData)
)

// maxSectionBytes caps a single decoded section at 16 GiB, which bounds
// what a corrupted length field can make Load allocate.
const maxSectionBytes = 16 << 30

// A shared encoder/decoder pair; both are safe for concurrent use via
// EncodeAll and DecodeAll.
var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

// SectionWriter frames and compresses snapshot sections onto an
// underlying writer.
type SectionWriter struct {
	w io.Writer
}

// NewSectionWriter creates a writer that wraps an underlying io.Writer.
func NewSectionWriter(w io.Writer) *SectionWriter {
	return &SectionWriter{w: w}
}

// WriteSection compresses the payload and writes one framed section.
// Frame format: [Magic(1)][Kind(1)][RawLen(8)][CompLen(8)][CRC(4)][Compressed(N)].
// The checksum covers the compressed bytes, so corruption is caught
// before any decompression work happens.
func (sw *SectionWriter) WriteSection(kind byte, payload []byte) error {
	compressed := zstdEnc.EncodeAll(payload, nil)

	header := make([]byte, sectionHeaderSize)
	header[0] = SectionMagic
	header[1] = kind
	binary.LittleEndian.PutUint64(header[2:10], uint64(len(payload)))
	binary.LittleEndian.PutUint64(header[10:18], uint64(len(compressed)))
	binary.LittleEndian.PutUint32(header[18:22], crc32.ChecksumIEEE(compressed))

	if _, err := sw.w.Write(header); err != nil {
		return err
	}
	if _, err := sw.w.Write(compressed); err != nil {
		return err
	}
	return nil
}

// ReadSection reads and decompresses the next section, validating the
// magic byte, the checksum, and the decoded length. I/O failures pass
// through untouched; structural faults classify as corrupt data.
func ReadSection(r io.Reader) (byte, []byte, error) {
	header := make([]byte, sectionHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrIncompleteSection
	}

	if header[0] != SectionMagic {
		return 0, nil, ErrInvalidMagic
	}
	kind := header[1]
	rawLen := binary.LittleEndian.Uint64(header[2:10])
	compLen := binary.LittleEndian.Uint64(header[10:18])
	expectedCRC := binary.LittleEndian.Uint32(header[18:22])
	if rawLen > maxSectionBytes || compLen > maxSectionBytes {
		return kind, nil, ErrSectionTooLarge
	}

	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return kind, nil, ErrIncompleteSection
	}
	if crc32.ChecksumIEEE(compressed) != expectedCRC {
		return kind, nil, ErrChecksumMismatch
	}

	payload, err := zstdDec.DecodeAll(compressed, make([]byte, 0, rawLen))
	if err != nil {
		return kind, nil, fmt.Errorf("%w: zstd: %v", core.ErrCorruptData, err)
	}
	if uint64(len(payload)) != rawLen {
		return kind, nil, fmt.Errorf("%w: section decodes to %d bytes, header says %d",
			core.ErrCorruptData, len(payload), rawLen)
	}
	return kind, payload, nil
}
