package hnsw

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/navigable/smallworld/pkg/core"
)

// AssignLevels draws one level per point from the geometric distribution
// floor(-ln(U) * levelMult), capped at maxLevel. A fixed seed yields the
// same assignment on every machine, which together with the deterministic
// insert order makes whole builds reproducible.
func AssignLevels(n int, maxLevel int, levelMult float64, seed int64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	levels := make([]int32, n)
	for i := range levels {
		// 1-Float64() is in (0,1]; log(0) would blow the cap off.
		u := 1 - rng.Float64()
		level := int32(math.Floor(-math.Log(u) * levelMult))
		if level > int32(maxLevel) {
			level = int32(maxLevel)
		}
		levels[i] = level
	}
	return levels
}

// ValidateLevels checks an injected level assignment against the store
// geometry: one level per point, every level in [0, maxLevel].
func ValidateLevels(levels []int32, n int, maxLevel int) error {
	if len(levels) != n {
		return fmt.Errorf("%w: got %d levels for %d points", core.ErrInvalidArgument, len(levels), n)
	}
	for i, l := range levels {
		if l < 0 || l > int32(maxLevel) {
			return fmt.Errorf("%w: level %d at point %d is outside [0, %d]",
				core.ErrInvalidArgument, l, i, maxLevel)
		}
	}
	return nil
}
