// Package persistence serializes built indexes to disk and back.
//
// A snapshot file is self-describing: a small JSON meta block records the
// geometry and build parameters, followed by zstd-compressed framed
// sections for levels, vectors, and adjacency. Every section carries its
// own checksum, and files are replaced atomically on save, so a reader
// either sees the previous complete snapshot or the new one.
package persistence

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/hnsw"
)

const (
	fileMagic = "SWIX"

	// FormatVersion is bumped on any incompatible layout change.
	FormatVersion = 1

	// fileHeaderSize is the fixed prefix before the meta block:
	// 4 bytes (Magic) + 2 bytes (Version) + 2 bytes (Reserved) +
	// 4 bytes (MetaLen) + 4 bytes (MetaCRC) = 16 bytes.
	fileHeaderSize = 16

	// maxMetaBytes bounds the JSON meta block.
	maxMetaBytes = 1 << 20
)

var (
	ErrBadFileMagic       = fmt.Errorf("%w: not a snapshot file", core.ErrCorruptData)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported snapshot version", core.ErrCorruptData)
)

// Snapshot is the full persisted state of one index: store contents,
// build parameters, and the graph. Exactly one of VectorsF32/VectorsF16
// is set, matching Precision.
type Snapshot struct {
	Metric     distance.Metric
	Precision  distance.Precision
	Dim        int
	Count      int
	Normalized bool

	MaxM           int
	MaxM0          int
	EfConstruction int
	MaxLevel       int
	Heuristic      bool
	SaveRemains    bool
	LevelMult      float64
	Seed           int64

	VectorsF32 []float32
	VectorsF16 []uint16

	Graph *hnsw.Graph
}

// fileMeta is the JSON block at the head of a snapshot file.
type fileMeta struct {
	Metric         string  `json:"metric"`
	Precision      string  `json:"precision"`
	Dim            int     `json:"dim"`
	Count          int     `json:"count"`
	Normalized     bool    `json:"normalized"`
	MaxM           int     `json:"max_m"`
	MaxM0          int     `json:"max_m0"`
	EfConstruction int     `json:"ef_construction"`
	MaxLevel       int     `json:"max_level"`
	Heuristic      bool    `json:"heuristic"`
	SaveRemains    bool    `json:"save_remains"`
	LevelMult      float64 `json:"level_mult"`
	Seed           int64   `json:"seed"`
	Entry          uint32  `json:"entry"`
	GraphMaxLevel  int32   `json:"graph_max_level"`
}

// Write serializes the snapshot onto w. The caller owns buffering.
func Write(w io.Writer, s *Snapshot) error {
	if s == nil || s.Graph == nil {
		return fmt.Errorf("%w: nil snapshot", core.ErrInvalidArgument)
	}
	meta := fileMeta{
		Metric:         string(s.Metric),
		Precision:      string(s.Precision),
		Dim:            s.Dim,
		Count:          s.Count,
		Normalized:     s.Normalized,
		MaxM:           s.MaxM,
		MaxM0:          s.MaxM0,
		EfConstruction: s.EfConstruction,
		MaxLevel:       s.MaxLevel,
		Heuristic:      s.Heuristic,
		SaveRemains:    s.SaveRemains,
		LevelMult:      s.LevelMult,
		Seed:           s.Seed,
		Entry:          s.Graph.Entry,
		GraphMaxLevel:  s.Graph.MaxLevel,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode snapshot meta: %w", err)
	}

	header := make([]byte, fileHeaderSize)
	copy(header[0:4], fileMagic)
	binary.LittleEndian.PutUint16(header[4:6], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(metaBytes)))
	binary.LittleEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(metaBytes))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(metaBytes); err != nil {
		return err
	}

	sw := NewSectionWriter(w)
	if err := sw.WriteSection(SectionLevels, encodeInt32s(s.Graph.Levels)); err != nil {
		return err
	}
	if err := sw.WriteSection(SectionVectors, encodeVectors(s)); err != nil {
		return err
	}
	return sw.WriteSection(SectionAdjacency, encodeAdjacency(s.Graph))
}

// Read deserializes a snapshot from r, validating structure as it goes.
// Underlying I/O errors pass through; anything structurally wrong with
// the bytes classifies as corrupt data.
func Read(r io.Reader) (*Snapshot, error) {
	header := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", core.ErrCorruptData, err)
	}
	if string(header[0:4]) != fileMagic {
		return nil, ErrBadFileMagic
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != FormatVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, v)
	}
	metaLen := binary.LittleEndian.Uint32(header[8:12])
	metaCRC := binary.LittleEndian.Uint32(header[12:16])
	if metaLen > maxMetaBytes {
		return nil, fmt.Errorf("%w: meta block of %d bytes", core.ErrCorruptData, metaLen)
	}

	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, fmt.Errorf("%w: meta block: %v", core.ErrCorruptData, err)
	}
	if crc32.ChecksumIEEE(metaBytes) != metaCRC {
		return nil, fmt.Errorf("%w: meta checksum mismatch", core.ErrCorruptData)
	}
	var meta fileMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", core.ErrCorruptData, err)
	}

	s, err := snapshotFromMeta(&meta)
	if err != nil {
		return nil, err
	}

	levelsRaw, err := expectSection(r, SectionLevels)
	if err != nil {
		return nil, err
	}
	if len(levelsRaw) != 4*s.Count {
		return nil, fmt.Errorf("%w: levels section holds %d bytes for %d points",
			core.ErrCorruptData, len(levelsRaw), s.Count)
	}
	levels := decodeInt32s(levelsRaw)

	vectorsRaw, err := expectSection(r, SectionVectors)
	if err != nil {
		return nil, err
	}
	if err := decodeVectors(s, vectorsRaw); err != nil {
		return nil, err
	}

	adjRaw, err := expectSection(r, SectionAdjacency)
	if err != nil {
		return nil, err
	}
	conns, err := decodeAdjacency(adjRaw, levels)
	if err != nil {
		return nil, err
	}

	s.Graph = &hnsw.Graph{
		Levels:   levels,
		Conns:    conns,
		Entry:    meta.Entry,
		MaxLevel: meta.GraphMaxLevel,
	}
	return s, nil
}

// Save writes the snapshot to path atomically: a temp file in the same
// directory is written, synced, and renamed over the target, so a crash
// mid-save never clobbers an existing snapshot.
func Save(path string, s *Snapshot) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".smallworld-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := Write(bw, s); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot file written by Save.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(bufio.NewReaderSize(f, 1<<20))
}

func snapshotFromMeta(meta *fileMeta) (*Snapshot, error) {
	metric, err := distance.ParseMetric(meta.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptData, err)
	}
	precision, err := distance.ParsePrecision(meta.Precision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptData, err)
	}
	if meta.Count < 0 || meta.Dim <= 0 {
		return nil, fmt.Errorf("%w: %d points of dimension %d", core.ErrCorruptData, meta.Count, meta.Dim)
	}
	if meta.MaxM < 2 || meta.MaxM0 < meta.MaxM || meta.MaxLevel < 0 {
		return nil, fmt.Errorf("%w: implausible graph parameters", core.ErrCorruptData)
	}
	return &Snapshot{
		Metric:         metric,
		Precision:      precision,
		Dim:            meta.Dim,
		Count:          meta.Count,
		Normalized:     meta.Normalized,
		MaxM:           meta.MaxM,
		MaxM0:          meta.MaxM0,
		EfConstruction: meta.EfConstruction,
		MaxLevel:       meta.MaxLevel,
		Heuristic:      meta.Heuristic,
		SaveRemains:    meta.SaveRemains,
		LevelMult:      meta.LevelMult,
		Seed:           meta.Seed,
	}, nil
}

func expectSection(r io.Reader, want byte) ([]byte, error) {
	kind, payload, err := ReadSection(r)
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing section 0x%02x", core.ErrCorruptData, want)
	}
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("%w: found section 0x%02x, expected 0x%02x", core.ErrCorruptData, kind, want)
	}
	return payload, nil
}

func encodeInt32s(vals []int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

func decodeInt32s(raw []byte) []int32 {
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func encodeVectors(s *Snapshot) []byte {
	if s.Precision == distance.Float16 {
		out := make([]byte, 2*len(s.VectorsF16))
		for i, v := range s.VectorsF16 {
			binary.LittleEndian.PutUint16(out[2*i:], v)
		}
		return out
	}
	out := make([]byte, 4*len(s.VectorsF32))
	for i, v := range s.VectorsF32 {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeVectors(s *Snapshot, raw []byte) error {
	n := s.Count * s.Dim
	if s.Precision == distance.Float16 {
		if len(raw) != 2*n {
			return fmt.Errorf("%w: vectors section holds %d bytes, want %d", core.ErrCorruptData, len(raw), 2*n)
		}
		s.VectorsF16 = make([]uint16, n)
		for i := range s.VectorsF16 {
			s.VectorsF16[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
		return nil
	}
	if len(raw) != 4*n {
		return fmt.Errorf("%w: vectors section holds %d bytes, want %d", core.ErrCorruptData, len(raw), 4*n)
	}
	s.VectorsF32 = make([]float32, n)
	for i := range s.VectorsF32 {
		s.VectorsF32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return nil
}

// encodeAdjacency lays out, per point and per layer, a uint32 degree
// followed by that many uint32 neighbor ids. Layer counts come from the
// levels section, so the encoding carries no redundant structure.
func encodeAdjacency(g *hnsw.Graph) []byte {
	size := 0
	for _, layers := range g.Conns {
		for _, conns := range layers {
			size += 4 + 4*len(conns)
		}
	}
	out := make([]byte, size)
	off := 0
	for _, layers := range g.Conns {
		for _, conns := range layers {
			binary.LittleEndian.PutUint32(out[off:], uint32(len(conns)))
			off += 4
			for _, nb := range conns {
				binary.LittleEndian.PutUint32(out[off:], nb)
				off += 4
			}
		}
	}
	return out
}

func decodeAdjacency(raw []byte, levels []int32) ([][][]uint32, error) {
	conns := make([][][]uint32, len(levels))
	off := 0
	for i, level := range levels {
		if level < 0 {
			return nil, fmt.Errorf("%w: point %d has negative level", core.ErrCorruptData, i)
		}
		layers := make([][]uint32, level+1)
		for l := range layers {
			if off+4 > len(raw) {
				return nil, fmt.Errorf("%w: adjacency section truncated at point %d", core.ErrCorruptData, i)
			}
			degree := binary.LittleEndian.Uint32(raw[off:])
			off += 4
			if off+4*int(degree) > len(raw) {
				return nil, fmt.Errorf("%w: adjacency section truncated at point %d", core.ErrCorruptData, i)
			}
			list := make([]uint32, degree)
			for j := range list {
				list[j] = binary.LittleEndian.Uint32(raw[off:])
				off += 4
			}
			layers[l] = list
		}
		conns[i] = layers
	}
	if off != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes in adjacency section", core.ErrCorruptData, len(raw)-off)
	}
	return conns, nil
}
