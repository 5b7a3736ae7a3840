package vector

import (
	"math"
	"testing"
)

func TestL2Distance(t *testing.T) {
	if d := L2Distance([]float32{1, 0}, []float32{1, 0}); d != 0 {
		t.Errorf("identical vectors: got %f", d)
	}
	if d := L2Distance([]float32{0, 0}, []float32{3, 4}); math.Abs(d-5) > 1e-9 {
		t.Errorf("3-4-5 triangle: got %f", d)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{2, 0}); math.Abs(s-1) > 1e-9 {
		t.Errorf("parallel vectors: got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(s) > 1e-9 {
		t.Errorf("orthogonal vectors: got %f", s)
	}
	if s := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); s != 0 {
		t.Errorf("zero vector: got %f", s)
	}
	if s := CosineSimilarity([]float32{1}, []float32{1, 1}); s != 0 {
		t.Errorf("length mismatch: got %f", s)
	}
}

func TestUnitDistanceMatchesL2ForNormalizedVectors(t *testing.T) {
	a := []float32{0.6, 0.8}
	b := []float32{1, 0}
	want := L2Distance(a, b)
	got := UnitDistance(CosineSimilarity(a, b))
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("UnitDistance = %f, L2 = %f", got, want)
	}
	if UnitDistance(1.0000001) != 0 {
		t.Error("rounding above 1 should clamp to distance 0")
	}
}
