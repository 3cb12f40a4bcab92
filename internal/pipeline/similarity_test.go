package pipeline

import (
	"math"
	"testing"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	t.Parallel()

	score, err := CosineSimilarity([]float64{0.3, 0.4, 0.5}, []float64{0.3, 0.4, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score-1) > 1e-9 {
		t.Fatalf("expected 1.0 for identical vectors, got %f", score)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	t.Parallel()

	score, err := CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score) > 1e-9 {
		t.Fatalf("expected 0.0 for orthogonal vectors, got %f", score)
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	t.Parallel()

	if _, err := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCosineSimilarity_ZeroNorm(t *testing.T) {
	t.Parallel()

	score, err := CosineSimilarity([]float64{0, 0}, []float64{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected 0.0 for zero-norm vector, got %f", score)
	}
}
