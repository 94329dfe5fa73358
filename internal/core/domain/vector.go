package domain

import (
	"errors"
	"fmt"
	"math"
)

// NormalizeL2 returns a unit-length copy of v. Zero and non-finite vectors are rejected.
func NormalizeL2(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, errors.New("empty vector")
	}
	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite value at index %d", i)
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, errors.New("zero vector")
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CheckDimension reports ErrDimensionMismatch when a vector does not have the corpus dimension.
func CheckDimension(v []float32, want int) error {
	if want > 0 && len(v) != want {
		return WrapError(ErrDimensionMismatch, "check dimension", fmt.Errorf("got %d, want %d", len(v), want))
	}
	return nil
}
