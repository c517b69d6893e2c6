package hnsw

import (
	"errors"
	"math"
	"testing"

	"github.com/navigable/smallworld/pkg/core"
)

func TestAssignLevelsDeterministic(t *testing.T) {
	a := AssignLevels(5000, 32, 1/math.Log(12), 777)
	b := AssignLevels(5000, 32, 1/math.Log(12), 777)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("level %d differs between runs: %d vs %d", i, a[i], b[i])
		}
	}
	c := AssignLevels(5000, 32, 1/math.Log(12), 778)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical level sequences")
	}
}

func TestAssignLevelsDistribution(t *testing.T) {
	mult := 1 / math.Log(12)
	levels := AssignLevels(100000, 32, mult, 42)

	zeros := 0
	sum := 0.0
	for _, l := range levels {
		if l < 0 || l > 32 {
			t.Fatalf("level %d outside [0, 32]", l)
		}
		if l == 0 {
			zeros++
		}
		sum += float64(l)
	}
	// P(level == 0) = 1 - 1/M for the geometric distribution.
	frac := float64(zeros) / float64(len(levels))
	if frac < 0.88 || frac > 0.95 {
		t.Errorf("fraction of level-0 points = %.3f, want near %.3f", frac, 1-1.0/12)
	}
	// E[level] = sum_k P(level >= k) = 1/(M-1) for mult = 1/ln(M).
	mean := sum / float64(len(levels))
	if want := 1.0 / 11; math.Abs(mean-want) > 0.01 {
		t.Errorf("mean level = %.4f, want near %.4f", mean, want)
	}
}

func TestAssignLevelsCap(t *testing.T) {
	// A huge multiplier forces the cap to bite.
	levels := AssignLevels(2000, 3, 50.0, 7)
	capped := false
	for _, l := range levels {
		if l > 3 {
			t.Fatalf("level %d exceeds cap 3", l)
		}
		if l == 3 {
			capped = true
		}
	}
	if !capped {
		t.Error("no level reached the cap despite a huge multiplier")
	}
}

func TestValidateLevels(t *testing.T) {
	tests := []struct {
		name    string
		levels  []int32
		n       int
		max     int
		wantErr bool
	}{
		{"ok", []int32{0, 1, 0, 2}, 4, 2, false},
		{"empty", nil, 0, 2, false},
		{"wrong length", []int32{0, 1}, 3, 2, true},
		{"negative", []int32{0, -1, 0}, 3, 2, true},
		{"over cap", []int32{0, 3, 0}, 3, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLevels(tt.levels, tt.n, tt.max)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidArgument) {
					t.Fatalf("got %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
