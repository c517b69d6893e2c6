package distance

import (
	"log"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/viterin/vek/vek32"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// gonumEngine is the pure-Go BLAS implementation. Its routines carry
// hand-tuned unrolling that beats naive loops on wide vectors.
var gonumEngine = gonum.Implementation{}

// wsPool recycles float32 workspaces for kernels that need scratch space.
// Slices are grown on demand and kept; vector dims are stable per process
// so the pool settles quickly.
var wsPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 256)
		return &s
	},
}

func grabWs(n int) *[]float32 {
	wsp := wsPool.Get().(*[]float32)
	if cap(*wsp) < n {
		*wsp = make([]float32, n)
	}
	*wsp = (*wsp)[:n]
	return wsp
}

func init() {
	if !cpuid.CPU.Has(cpuid.AVX2) {
		log.Printf("distance: no AVX2, accelerated backend disabled (cpu %q)", cpuid.CPU.BrandName)
		return
	}
	accel = &backendSet{
		name: "avx2",
		f32: map[Metric]Func{
			L2:     l2Gonum,
			Dot:    dotVek,
			Cosine: cosineVek,
		},
		f16: map[Metric]FuncF16{
			L2: l2AccelF16,
		},
	}
	log.Printf("distance: accelerated backend enabled (avx2, f16c=%v)", cpuid.CPU.Has(cpuid.F16C))
}

// l2Gonum computes squared Euclidean distance as dot(a-b, a-b) using BLAS
// axpy/dot, with a pooled workspace for the difference vector.
func l2Gonum(a, b []float32) float32 {
	n := len(a)
	wsp := grabWs(n)
	diff := *wsp
	copy(diff, a)
	gonumEngine.Saxpy(n, -1, b, 1, diff, 1)
	d := gonumEngine.Sdot(n, diff, 1, diff, 1)
	wsPool.Put(wsp)
	return d
}

func dotVek(a, b []float32) float32 {
	return -vek32.Dot(a, b)
}

func cosineVek(a, b []float32) float32 {
	return 1 - vek32.Dot(a, b)
}

// l2AccelF16 widens both half-precision rows into pooled workspaces and
// lets the BLAS kernels do the arithmetic. The widening loop stays
// scalar; it is memory-bound either way.
func l2AccelF16(a, b []uint16) float32 {
	n := len(a)
	wa := grabWs(n)
	wb := grabWs(n)
	fa, fb := *wa, *wb
	for i := 0; i < n; i++ {
		fa[i] = float16.Frombits(a[i]).Float32()
		fb[i] = float16.Frombits(b[i]).Float32()
	}
	gonumEngine.Saxpy(n, -1, fb, 1, fa, 1)
	d := gonumEngine.Sdot(n, fa, 1, fa, 1)
	wsPool.Put(wa)
	wsPool.Put(wb)
	return d
}
