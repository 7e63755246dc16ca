package sampling

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestTruncNormalRespectsBounds(t *testing.T) {
	s := New()
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		v := s.TruncNormal(rng, 1.0, 0.5, 0.8, 1.1)
		if v < 0.8 || v > 1.1 {
			t.Fatalf("draw %d = %g escaped [0.8, 1.1]", i, v)
		}
	}

	// One-sided truncation with an infinite upper bound.
	rng = rand.New(rand.NewPCG(3, 4))
	var sum float64
	const n = 2000
	for i := 0; i < n; i++ {
		v := s.TruncNormal(rng, 1.0, 0.3, 1e-6, math.Inf(1))
		if v <= 0 {
			t.Fatalf("draw %d = %g not positive", i, v)
		}
		sum += v
	}
	if mean := sum / n; math.Abs(mean-1.0) > 0.1 {
		t.Fatalf("truncated mean = %g, want near 1.0", mean)
	}
}

func TestTruncNormalDegenerateInputs(t *testing.T) {
	s := New()
	rng := rand.New(rand.NewPCG(5, 6))
	if v := s.TruncNormal(rng, 2.0, 0, 0, 1); v != 1 {
		t.Fatalf("zero sd should clamp the mean, got %g", v)
	}
	// Bounds far in the tail where the CDF mass underflows to zero width.
	v := s.TruncNormal(rng, 0, 1, 100, 101)
	if v < 100 || v > 101 {
		t.Fatalf("tail draw %g escaped bounds", v)
	}
}

func TestBoundedModeBiasesTowardMode(t *testing.T) {
	s := New()
	rng := rand.New(rand.NewPCG(7, 8))
	var sum float64
	const n = 1000
	for i := 0; i < n; i++ {
		v := s.BoundedMode(rng, 0, 0.8, 1, 50)
		if v < 0 || v > 1 {
			t.Fatalf("draw %d = %g escaped [0,1]", i, v)
		}
		sum += v
	}
	// PERT mean with shape 50 and mode 0.8 is (0 + 50*0.8 + 1)/52.
	if mean := sum / n; math.Abs(mean-41.0/52.0) > 0.05 {
		t.Fatalf("mean = %g, want near %g", mean, 41.0/52.0)
	}

	if v := s.BoundedMode(rng, 0.5, 0.5, 0.5, 4); v != 0.5 {
		t.Fatalf("collapsed interval returned %g", v)
	}
}

func TestDrawsAreDeterministic(t *testing.T) {
	s := New()
	r1 := rand.New(rand.NewPCG(11, 12))
	r2 := rand.New(rand.NewPCG(11, 12))
	for i := 0; i < 100; i++ {
		a := s.TruncNormal(r1, 1, 0.2, 0, 2)
		b := s.TruncNormal(r2, 1, 0.2, 0, 2)
		if a != b {
			t.Fatalf("truncnorm diverged at draw %d: %g vs %g", i, a, b)
		}
		a = s.BoundedMode(r1, 0, 0.3, 1, 4)
		b = s.BoundedMode(r2, 0, 0.3, 1, 4)
		if a != b {
			t.Fatalf("mPERT diverged at draw %d: %g vs %g", i, a, b)
		}
	}
}
