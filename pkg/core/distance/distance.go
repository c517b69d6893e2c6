// Package distance implements the distance kernels behind the index: L2
// (squared Euclidean), negated inner product and cosine distance, over
// float32 and float16 storage.
//
// Two interchangeable backends sit behind one function type. The
// reference backend is portable Go with a fixed accumulation order, so
// builds are bitwise reproducible anywhere. The accelerated backend uses
// SIMD kernels (vek) and BLAS routines (gonum) and is selected at startup
// only when the CPU advertises the required features. Callers pick a
// backend once and hold the function; there is no per-call dispatch.
package distance

import (
	"errors"
	"fmt"
)

// Metric identifies a distance function family. Smaller values are nearer
// under every metric, which keeps heap ordering uniform across the index.
type Metric string

const (
	// L2 is squared Euclidean distance. The square root is omitted; it
	// does not change neighbor order.
	L2 Metric = "l2"
	// Dot is negated inner product, so larger dot products sort nearer.
	Dot Metric = "dot"
	// Cosine is 1 - dot over L2-normalized vectors. The store normalizes
	// at load time; the kernel assumes unit length.
	Cosine Metric = "cosine"
)

// Precision identifies the storage precision of vectors.
type Precision string

const (
	Float32 Precision = "f32"
	Float16 Precision = "f16"
)

var (
	// ErrUnknownMetric reports a metric name outside l2/dot/cosine.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnknownPrecision reports a precision name outside f32/f16.
	ErrUnknownPrecision = errors.New("unknown precision")
	// ErrUnsupported reports a metric/precision/backend combination with
	// no registered kernel, such as float16 under a non-L2 metric.
	ErrUnsupported = errors.New("unsupported kernel combination")
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case L2, Dot, Cosine:
		return Metric(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// ParsePrecision validates a precision name.
func ParsePrecision(s string) (Precision, error) {
	switch Precision(s) {
	case Float32, Float16:
		return Precision(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPrecision, s)
}

// Func computes the distance between two equal-length float32 vectors.
// Length equality is the caller's responsibility; the store guarantees it
// for everything the index feeds through here.
type Func func(a, b []float32) float32

// FuncF16 is the float16 variant, operating on raw IEEE 754 half bits.
type FuncF16 func(a, b []uint16) float32

// BatchFunc computes distances from one query to len(dst) consecutive
// rows of a contiguous row-major block. block must hold at least
// len(dst)*dim values.
type BatchFunc func(dst []float32, query []float32, block []float32, dim int)

// backendSet groups the kernels of one backend.
type backendSet struct {
	name string
	f32  map[Metric]Func
	f16  map[Metric]FuncF16
}

// reference is always available and never replaced after init.
var reference = &backendSet{
	name: "reference",
	f32: map[Metric]Func{
		L2:     l2Ref,
		Dot:    dotRef,
		Cosine: cosineRef,
	},
	f16: map[Metric]FuncF16{
		L2: l2RefF16,
	},
}

// accel is populated by the capability check in accel.go; nil when the
// CPU lacks the required features or the platform has no SIMD path.
var accel *backendSet

// Accelerated reports whether the accelerated backend is available on
// this machine.
func Accelerated() bool { return accel != nil }

// Name returns the name of the backend that would serve requests with the
// given preference.
func Name(useAccel bool) string {
	if useAccel && accel != nil {
		return accel.name
	}
	return reference.name
}

func pick(useAccel bool) *backendSet {
	if useAccel && accel != nil {
		return accel
	}
	return reference
}

// F32 returns the float32 kernel for a metric, honoring the backend
// preference. The returned function is safe for concurrent use.
func F32(m Metric, useAccel bool) (Func, error) {
	if fn, ok := pick(useAccel).f32[m]; ok {
		return fn, nil
	}
	if fn, ok := reference.f32[m]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: metric %q (f32)", ErrUnsupported, m)
}

// F16 returns the float16 kernel for a metric. Only L2 is defined over
// half precision.
func F16(m Metric, useAccel bool) (FuncF16, error) {
	if fn, ok := pick(useAccel).f16[m]; ok {
		return fn, nil
	}
	if fn, ok := reference.f16[m]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: metric %q (f16)", ErrUnsupported, m)
}

// Batch returns the batched kernel for a metric: a loop over the selected
// pairwise function. Contiguous rows keep the loop cache-friendly, which
// is where the accelerated backend earns its keep.
func Batch(m Metric, useAccel bool) (BatchFunc, error) {
	fn, err := F32(m, useAccel)
	if err != nil {
		return nil, err
	}
	return func(dst []float32, query []float32, block []float32, dim int) {
		for i := range dst {
			dst[i] = fn(query, block[i*dim:(i+1)*dim])
		}
	}, nil
}

// --- reference kernels ---
//
// Plain loops with left-to-right accumulation. The compiler does a decent
// job on these; they are the portability and reproducibility baseline.

func l2Ref(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dotRef(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

func cosineRef(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return 1 - sum
}
