//go:build amd64

package distance

// DotAVX2 computes the inner product of two float32 vectors with fused
// multiply-add over 8-lane AVX2 registers. The assembly and its stub are
// produced by the generator below and are not checked in; run go:generate
// and build with -tags avo to use it. The portable backends in accel.go
// cover the same metrics without generated code.
//
//go:generate go run ./gen -stubs ./stubs_avo.go -out ./dot_avo.s
//func DotAVX2(a []float32, b []float32) float32
