package pipeline

import (
	"fmt"
	"math"
)

// CosineSimilarity computes the cosine of the angle between two vectors.
// Stateless; returns an error on dimension mismatch rather than guessing.
func CosineSimilarity(left, right []float64) (float64, error) {
	if len(left) == 0 || len(right) == 0 {
		return 0, fmt.Errorf("cosine similarity requires non-empty vectors")
	}
	if len(left) != len(right) {
		return 0, fmt.Errorf("cosine similarity dimension mismatch: %d vs %d", len(left), len(right))
	}

	var dot, leftNorm, rightNorm float64
	for i := range left {
		dot += left[i] * right[i]
		leftNorm += left[i] * left[i]
		rightNorm += right[i] * right[i]
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm)), nil
}
