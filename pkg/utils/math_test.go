package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	emb := []float32{3, 4}
	NormalizeL2(emb)
	if math.Abs(float64(emb[0])-0.6) > 1e-6 || math.Abs(float64(emb[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeL2 = %v, want [0.6 0.8]", emb)
	}

	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}

	// A 384-dim embedding of small components still ends up on the unit sphere.
	wide := make([]float32, 384)
	for i := range wide {
		wide[i] = 1e-3 * float32(i%7+1)
	}
	NormalizeL2(wide)
	var sum float64
	for _, v := range wide {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("squared norm after normalize = %f, want 1", sum)
	}
}
