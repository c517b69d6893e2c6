package persistence

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/hnsw"
)

// testSnapshot builds a small hand-checked snapshot: three points in two
// dimensions, one of them on layer 1.
func testSnapshot() *Snapshot {
	return &Snapshot{
		Metric:         distance.L2,
		Precision:      distance.Float32,
		Dim:            2,
		Count:          3,
		MaxM:           4,
		MaxM0:          8,
		EfConstruction: 16,
		MaxLevel:       32,
		Heuristic:      true,
		LevelMult:      0.4,
		Seed:           777,
		VectorsF32:     []float32{0, 0, 1, 0, 0, 1},
		Graph: &hnsw.Graph{
			Levels: []int32{0, 1, 0},
			Conns: [][][]uint32{
				{{1, 2}},
				{{0, 2}, {}},
				{{0, 1}},
			},
			Entry:    1,
			MaxLevel: 1,
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	want := testSnapshot()
	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestSnapshotRoundTripFloat16(t *testing.T) {
	want := testSnapshot()
	want.Precision = distance.Float16
	want.VectorsF32 = nil
	want.VectorsF16 = []uint16{0, 0, 0x3C00, 0, 0, 0x3C00}

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestSaveLoadAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.swix")
	want := testSnapshot()

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatal("loaded snapshot differs from saved")
	}

	// Saving again over the same path replaces it and leaves no temp
	// files behind.
	want.Seed = 778
	if err := Save(path, want); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, err = Load(path)
	if err != nil {
		t.Fatalf("re-load: %v", err)
	}
	if got.Seed != 778 {
		t.Fatalf("got seed %d after re-save, want 778", got.Seed)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory holds %d entries after save, want 1", len(entries))
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.swix"))
	if err == nil {
		t.Fatal("load of missing file succeeded")
	}
	if errors.Is(err, core.ErrCorruptData) {
		t.Fatalf("missing file reported as corrupt data: %v", err)
	}
}

func TestReadRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testSnapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	clean := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"future version", func(b []byte) []byte { b[4] = 0x7F; return b }},
		{"meta flipped", func(b []byte) []byte { b[fileHeaderSize] ^= 0xFF; return b }},
		{"payload flipped", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)/2] }},
		{"missing sections", func(b []byte) []byte { return b[:fileHeaderSize+60] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(append([]byte(nil), clean...))
			_, err := Read(bytes.NewReader(mutated))
			if !errors.Is(err, core.ErrCorruptData) {
				t.Fatalf("got %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestSectionFraming(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSectionWriter(&buf)
	payload := bytes.Repeat([]byte("smallworld"), 100)
	if err := sw.WriteSection(SectionLevels, payload); err != nil {
		t.Fatalf("write section: %v", err)
	}

	kind, got, err := ReadSection(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read section: %v", err)
	}
	if kind != SectionLevels {
		t.Fatalf("kind = 0x%02x, want 0x%02x", kind, SectionLevels)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload differs after framing round trip")
	}

	// Repetitive payloads must actually compress.
	if buf.Len() >= len(payload) {
		t.Errorf("framed size %d not smaller than raw %d", buf.Len(), len(payload))
	}
}

func TestSectionChecksum(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSectionWriter(&buf)
	if err := sw.WriteSection(SectionVectors, []byte("abcdefgh")); err != nil {
		t.Fatalf("write section: %v", err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0x01

	if _, _, err := ReadSection(bytes.NewReader(raw)); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}
