// Package utils provides shared math and logging helpers.
package utils

import "math"

// L2Norm returns the Euclidean norm of x, accumulated in float64.
// It returns NaN if any component is NaN or infinite.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return math.NaN()
		}
		sum += f * f
	}
	return math.Sqrt(sum)
}

// NormalizeL2 returns a unit-length copy of x. The second result is false when x
// is empty, has zero norm, or contains a non-finite component; in that case the
// returned slice is nil.
func NormalizeL2(x []float32) ([]float64, bool) {
	if len(x) == 0 {
		return nil, false
	}
	norm := L2Norm(x)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, false
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v) / norm
	}
	return out, true
}

// NormalizeL2InPlace normalizes the slice in place to unit L2 norm.
// If the norm is zero or not finite, the slice is unchanged and false is returned.
func NormalizeL2InPlace(x []float32) bool {
	norm := L2Norm(x)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return false
	}
	inv := 1.0 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
	return true
}
