package mmap

import (
	"encoding/binary"
	"testing"
)

// TestArenaRowRoundTrip writes rows through the mapping and reads them back.
func TestArenaRowRoundTrip(t *testing.T) {
	dir := t.TempDir()
	const rowBytes = 16

	a, err := New(dir, rowBytes, 4, RowFloat32, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	for i := uint32(0); i < 100; i++ {
		row, err := a.Row(i)
		if err != nil {
			t.Fatalf("Row(%d) failed: %v", i, err)
		}
		binary.LittleEndian.PutUint32(row[0:4], i)
	}

	for i := uint32(0); i < 100; i++ {
		row, err := a.Row(i)
		if err != nil {
			t.Fatal(err)
		}
		if got := binary.LittleEndian.Uint32(row[0:4]); got != i {
			t.Errorf("row %d: got %d, want %d", i, got, i)
		}
	}
}

// TestArenaReopen verifies that chunk headers survive a close/open cycle.
func TestArenaReopen(t *testing.T) {
	dir := t.TempDir()

	a, err := New(dir, 8, 2, RowFloat32, 0)
	if err != nil {
		t.Fatal(err)
	}
	row, err := a.Row(0)
	if err != nil {
		t.Fatal(err)
	}
	copy(row, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := New(dir, 8, 2, RowFloat32, 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()

	row, err = b.Row(0)
	if err != nil {
		t.Fatal(err)
	}
	if row[0] != 1 || row[7] != 8 {
		t.Errorf("row content lost across reopen: %v", row)
	}
}

// TestArenaGeometryMismatch checks that reusing a directory with different
// geometry is rejected.
func TestArenaGeometryMismatch(t *testing.T) {
	dir := t.TempDir()

	a, err := New(dir, 8, 2, RowFloat32, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Row(0); err != nil {
		t.Fatal(err)
	}
	a.Close()

	if _, err := New(dir, 16, 4, RowFloat32, 0); err == nil {
		t.Error("expected row size mismatch error on reopen")
	}
	if _, err := New(dir, 8, 2, RowFloat16, 0); err == nil {
		t.Error("expected encoding mismatch error on reopen")
	}
}

// TestArenaCast exercises the zero-copy view helpers.
func TestArenaCast(t *testing.T) {
	b := []byte{0, 0, 128, 63} // 1.0 in little-endian float32
	f := AsFloat32(b, 1)
	if f[0] != 1.0 {
		t.Errorf("AsFloat32: got %f, want 1.0", f[0])
	}
	if AsFloat32(nil, 0) != nil {
		t.Error("AsFloat32(nil) should be nil")
	}
}
