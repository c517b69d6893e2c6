//go:build avo && amd64

package distance

import "log"

func dotAvoWrapper(a, b []float32) float32 {
	return -DotAVX2(a, b)
}

func cosineAvoWrapper(a, b []float32) float32 {
	return 1 - DotAVX2(a, b)
}

func init() {
	// The capability check in accel.go already ran; only override when
	// the AVX2 set exists.
	if accel == nil {
		return
	}
	log.Println("distance: using generated AVX2 dot kernel")
	accel.f32[Dot] = dotAvoWrapper
	accel.f32[Cosine] = cosineAvoWrapper
}
