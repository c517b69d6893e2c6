package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"
)

// almostEqual compares with a relative tolerance, since the accelerated
// kernels may reorder accumulation.
func almostEqual(a, b, tol float32) bool {
	diff := math.Abs(float64(a - b))
	scale := math.Max(1, math.Max(math.Abs(float64(a)), math.Abs(float64(b))))
	return diff <= float64(tol)*scale
}

func randomVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestParseMetric(t *testing.T) {
	for _, s := range []string{"l2", "dot", "cosine"} {
		if _, err := ParseMetric(s); err != nil {
			t.Errorf("ParseMetric(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseMetric("euclidean"); err == nil {
		t.Error("ParseMetric should reject unknown names")
	}
	if _, err := ParsePrecision("f64"); err == nil {
		t.Error("ParsePrecision should reject unknown names")
	}
}

func TestReferenceKernels(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	if got := l2Ref(a, b); got != 27 {
		t.Errorf("l2: got %f, want 27", got)
	}
	if got := dotRef(a, b); got != -32 {
		t.Errorf("dot: got %f, want -32", got)
	}
	// Cosine assumes unit vectors; check the 1-dot identity directly.
	if got := cosineRef(a, b); got != 1-32 {
		t.Errorf("cosine: got %f, want %f", got, float32(1-32))
	}
}

func TestSelfDistanceIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := randomVec(rng, 64)

	if got := l2Ref(v, v); got != 0 {
		t.Errorf("l2(v,v): got %f, want 0", got)
	}

	// Normalize, then cosine self distance must be ~0.
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	if got := cosineRef(v, v); !almostEqual(got, 0, 1e-5) {
		t.Errorf("cosine(v,v): got %f, want ~0", got)
	}
}

func TestAccelMatchesReference(t *testing.T) {
	if !Accelerated() {
		t.Skip("accelerated backend not available on this CPU")
	}
	rng := rand.New(rand.NewSource(42))

	for _, dim := range []int{1, 7, 8, 31, 128, 384} {
		a := randomVec(rng, dim)
		b := randomVec(rng, dim)

		for _, m := range []Metric{L2, Dot, Cosine} {
			ref, err := F32(m, false)
			if err != nil {
				t.Fatal(err)
			}
			acc, err := F32(m, true)
			if err != nil {
				t.Fatal(err)
			}
			if r, ac := ref(a, b), acc(a, b); !almostEqual(r, ac, 1e-4) {
				t.Errorf("metric %s dim %d: reference %f, accel %f", m, dim, r, ac)
			}
		}
	}
}

func TestBatchMatchesPairwise(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const dim, rows = 48, 17

	block := make([]float32, rows*dim)
	for i := range block {
		block[i] = rng.Float32()
	}
	q := randomVec(rng, dim)

	for _, m := range []Metric{L2, Dot} {
		fn, err := F32(m, false)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := Batch(m, false)
		if err != nil {
			t.Fatal(err)
		}

		dst := make([]float32, rows)
		batch(dst, q, block, dim)
		for i := 0; i < rows; i++ {
			want := fn(q, block[i*dim:(i+1)*dim])
			if dst[i] != want {
				t.Errorf("metric %s row %d: batch %f, pairwise %f", m, i, dst[i], want)
			}
		}
	}
}

func TestFloat16L2(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a32 := randomVec(rng, 96)
	b32 := randomVec(rng, 96)

	a16 := make([]uint16, len(a32))
	b16 := make([]uint16, len(b32))
	for i := range a32 {
		a16[i] = float16.Fromfloat32(a32[i]).Bits()
		b16[i] = float16.Fromfloat32(b32[i]).Bits()
	}

	want := l2Ref(a32, b32)
	got := l2RefF16(a16, b16)
	// Half precision carries ~3 decimal digits; allow a loose tolerance.
	if !almostEqual(got, want, 5e-3) {
		t.Errorf("f16 l2: got %f, want ~%f", got, want)
	}

	if Accelerated() {
		fn, err := F16(L2, true)
		if err != nil {
			t.Fatal(err)
		}
		if acc := fn(a16, b16); !almostEqual(acc, got, 1e-3) {
			t.Errorf("f16 accel l2: got %f, reference %f", acc, got)
		}
	}
}

func TestF16UnsupportedMetric(t *testing.T) {
	if _, err := F16(Cosine, false); err == nil {
		t.Error("F16(cosine) should fail, only l2 is defined over half precision")
	}
}

func TestBackendName(t *testing.T) {
	if Name(false) != "reference" {
		t.Errorf("Name(false): got %q, want reference", Name(false))
	}
	if Accelerated() && Name(true) == "reference" {
		t.Error("Name(true) should report the accelerated backend when available")
	}
}

func BenchmarkL2Reference(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x := randomVec(rng, 128)
	y := randomVec(rng, 128)

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_ = l2Ref(x, y)
	}
}

func BenchmarkL2Accel(b *testing.B) {
	if !Accelerated() {
		b.Skip("accelerated backend not available")
	}
	rng := rand.New(rand.NewSource(1))
	x := randomVec(rng, 128)
	y := randomVec(rng, 128)

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_ = l2Gonum(x, y)
	}
}
