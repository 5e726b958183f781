package similarity

import (
	"math"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

const eps = 1e-9

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "scaled", a: []float32{1, 0}, b: []float32{5, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > eps {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxSim_TakesBestPair(t *testing.T) {
	query := domain.Embedding{{1, 0, 0}, {0, 1, 0}}
	// one perfect match among unrelated vectors must dominate
	stored := domain.Embedding{{0, 0, 1}, {0, 1, 0}, {0, 0, -1}}

	if got := MaxSim(query, stored); math.Abs(got-1) > eps {
		t.Errorf("MaxSim = %v, want 1", got)
	}
}

func TestMaxSim_IsNotMean(t *testing.T) {
	query := domain.Embedding{{1, 0}}
	a := domain.Embedding{{1, 0}, {-1, 0}, {-1, 0}} // mean would be negative
	b := domain.Embedding{{1, 1}, {1, 1}}           // uniform 0.707

	if MaxSim(query, a) <= MaxSim(query, b) {
		t.Errorf("expected a (%v) to outrank b (%v) under max-sim",
			MaxSim(query, a), MaxSim(query, b))
	}
}

func TestMaxSim_Empty(t *testing.T) {
	if got := MaxSim(nil, domain.Embedding{{1}}); got != 0 {
		t.Errorf("MaxSim(empty query) = %v, want 0", got)
	}
}
