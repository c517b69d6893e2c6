package distance

import "github.com/x448/float16"

// l2RefF16 is the portable half-precision L2 kernel. Components are
// widened to float32 one pair at a time; accumulation order matches the
// float32 reference kernel.
func l2RefF16(a, b []uint16) float32 {
	var sum float32
	for i := range a {
		d := float16.Frombits(a[i]).Float32() - float16.Frombits(b[i]).Float32()
		sum += d * d
	}
	return sum
}
