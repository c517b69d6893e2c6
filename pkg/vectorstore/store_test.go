package vectorstore

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
)

func TestSetDataCopies(t *testing.T) {
	s := New()
	data := []float32{1, 2, 3, 4, 5, 6}
	if err := s.SetData(data, 2, 3); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice must not leak into the store.
	data[0] = 99
	if got := s.Vector(0)[0]; got != 1 {
		t.Errorf("store aliases caller memory: got %f, want 1", got)
	}
	if s.Count() != 2 || s.Dim() != 3 {
		t.Errorf("geometry: got count=%d dim=%d, want 2/3", s.Count(), s.Dim())
	}
}

func TestSetDataValidation(t *testing.T) {
	s := New()

	cases := []struct {
		name string
		data []float32
		n    int
		dim  int
	}{
		{"length mismatch", []float32{1, 2, 3}, 2, 2},
		{"negative count", []float32{}, -1, 2},
		{"zero dim", []float32{}, 0, 0},
	}
	for _, tc := range cases {
		err := s.SetData(tc.data, tc.n, tc.dim)
		if !errors.Is(err, core.ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", tc.name, err)
		}
	}

	if err := s.SetData([]float32{1, float32(math.NaN())}, 1, 2); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("NaN component: got %v, want ErrInvalidArgument", err)
	}

	relaxed := New(WithFiniteCheck(false))
	if err := relaxed.SetData([]float32{1, float32(math.NaN())}, 1, 2); err != nil {
		t.Errorf("finite check disabled should accept NaN: %v", err)
	}
}

func TestSetDataZeroPoints(t *testing.T) {
	s := New()
	if err := s.SetData(nil, 0, 8); err != nil {
		t.Fatalf("zero points should load cleanly: %v", err)
	}
	if s.Count() != 0 || s.Dim() != 8 {
		t.Errorf("geometry after empty load: count=%d dim=%d", s.Count(), s.Dim())
	}
}

func TestNormalizeL2(t *testing.T) {
	s := New()
	data := []float32{3, 4, 0, 0} // one real row, one zero row
	if err := s.SetData(data, 2, 2); err != nil {
		t.Fatal(err)
	}

	skipped := s.NormalizeL2(false)
	if skipped != 1 {
		t.Errorf("skipped: got %d, want 1", skipped)
	}
	row := s.Vector(0)
	if math.Abs(float64(row[0])-0.6) > 1e-6 || math.Abs(float64(row[1])-0.8) > 1e-6 {
		t.Errorf("normalized row: got %v, want [0.6 0.8]", row)
	}
	if !s.Normalized() {
		t.Error("store should report normalized")
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	s := New(WithPrecision(distance.Float16))
	data := []float32{0.5, -1.25, 2, 0.125}
	if err := s.SetData(data, 2, 2); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 2)
	s.CopyVector(dst, 0)
	// These values are exactly representable in half precision.
	if dst[0] != 0.5 || dst[1] != -1.25 {
		t.Errorf("f16 row 0: got %v, want [0.5 -1.25]", dst)
	}
	s.CopyVector(dst, 1)
	if dst[0] != 2 || dst[1] != 0.125 {
		t.Errorf("f16 row 1: got %v, want [2 0.125]", dst)
	}

	if _, ok := s.Block(); ok {
		t.Error("f16 store must not expose a float32 block")
	}
}

func TestArenaBackedStore(t *testing.T) {
	dir := t.TempDir()
	s := New(WithArena(dir, 0))

	rng := rand.New(rand.NewSource(5))
	const n, dim = 300, 16
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	if err := s.SetData(data, n, dim); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, i := range []int{0, 7, 123, n - 1} {
		row := s.Vector(i)
		for j := 0; j < dim; j++ {
			if row[j] != data[i*dim+j] {
				t.Fatalf("row %d component %d: got %f, want %f", i, j, row[j], data[i*dim+j])
			}
		}
	}

	if _, ok := s.Block(); ok {
		t.Error("arena store must not expose a contiguous block")
	}
	if s.MemoryBytes() == 0 {
		t.Error("arena store should report nonzero resident bytes")
	}
}

func TestExportMatchesContent(t *testing.T) {
	s := New()
	data := []float32{1, 2, 3, 4}
	if err := s.SetData(data, 2, 2); err != nil {
		t.Fatal(err)
	}
	out := s.ExportF32()
	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("export mismatch at %d: got %f, want %f", i, out[i], data[i])
		}
	}
	// Export must be a copy, not a view.
	out[0] = 42
	if s.Vector(0)[0] != 1 {
		t.Error("ExportF32 returned a view into store memory")
	}
}
