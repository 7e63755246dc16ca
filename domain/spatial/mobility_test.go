package spatial

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/lshin-apl/bucky/domain/core"
)

func applyOnes(m *Mobility) []float64 {
	src := make([]float64, m.Nodes())
	for i := range src {
		src[i] = 1
	}
	dst := make([]float64, m.Nodes())
	m.Apply(dst, src, 1)
	return dst
}

func TestMobilityRowsAreStochastic(t *testing.T) {
	// Node 1 has no self-loop and node 2 is fully isolated; both cases must
	// still come out row-stochastic.
	m, err := NewMobility(3, []Edge{
		{From: 0, To: 0, Weight: 2},
		{From: 0, To: 1, Weight: 2},
		{From: 1, To: 0, Weight: 1},
	})
	if err != nil {
		t.Fatalf("NewMobility: %v", err)
	}
	for i, v := range applyOnes(m) {
		if math.Abs(v-1) > 1e-12 {
			t.Fatalf("row %d sums to %g", i, v)
		}
	}
	if d := m.Diag()[0]; math.Abs(d-0.5) > 1e-12 {
		t.Fatalf("diag[0] = %g, want 0.5", d)
	}
	// Missing self-loop mirrors the outbound weight, so node 1 splits evenly.
	if d := m.Diag()[1]; math.Abs(d-0.5) > 1e-12 {
		t.Fatalf("diag[1] = %g, want 0.5", d)
	}
	if d := m.Diag()[2]; d != 1 {
		t.Fatalf("isolated diag = %g, want 1", d)
	}
}

func TestMobilityOffDiagonalDamping(t *testing.T) {
	m, err := NewMobility(2, []Edge{
		{From: 0, To: 0, Weight: 3},
		{From: 0, To: 1, Weight: 1},
		{From: 1, To: 1, Weight: 1},
	})
	if err != nil {
		t.Fatalf("NewMobility: %v", err)
	}
	src := []float64{8, 4}
	dst := make([]float64, 2)

	// Full damping leaves only the self-mixing term.
	m.Apply(dst, src, 0)
	if math.Abs(dst[0]-0.75*8) > 1e-12 || math.Abs(dst[1]-4) > 1e-12 {
		t.Fatalf("fully damped apply = %v", dst)
	}

	// Half damping interpolates linearly between self-only and full mixing.
	m.Apply(dst, src, 0.5)
	want0 := 0.75*8 + 0.5*(0.25*4)
	if math.Abs(dst[0]-want0) > 1e-12 {
		t.Fatalf("half damped dst[0] = %g, want %g", dst[0], want0)
	}
}

func TestMobilitySparseStorage(t *testing.T) {
	// Ten nodes with two cross edges stays well under the density cutoff.
	edges := []Edge{
		{From: 0, To: 9, Weight: 5},
		{From: 9, To: 0, Weight: 5},
	}
	m, err := NewMobility(10, edges)
	if err != nil {
		t.Fatalf("NewMobility: %v", err)
	}
	if !m.Sparse() {
		t.Fatal("expected CSR storage for a sparse graph")
	}
	for i, v := range applyOnes(m) {
		if math.Abs(v-1) > 1e-12 {
			t.Fatalf("row %d sums to %g", i, v)
		}
	}
}

func TestMobilityPerturbIsDeterministicAndFresh(t *testing.T) {
	m, err := NewMobility(4, []Edge{
		{From: 0, To: 1, Weight: 1},
		{From: 1, To: 2, Weight: 2},
		{From: 2, To: 3, Weight: 3},
		{From: 3, To: 0, Weight: 4},
	})
	if err != nil {
		t.Fatalf("NewMobility: %v", err)
	}
	baseDiag := append([]float64(nil), m.Diag()...)

	p1 := m.Perturb(rand.New(rand.NewPCG(7, 7)), 0.2)
	p2 := m.Perturb(rand.New(rand.NewPCG(7, 7)), 0.2)
	p3 := m.Perturb(rand.New(rand.NewPCG(8, 8)), 0.2)

	for i := range baseDiag {
		if p1.Diag()[i] != p2.Diag()[i] {
			t.Fatalf("same seed produced different perturbations at row %d", i)
		}
		if m.Diag()[i] != baseDiag[i] {
			t.Fatalf("perturb mutated the base operator at row %d", i)
		}
	}
	var differs bool
	for i := range baseDiag {
		if p1.Diag()[i] != p3.Diag()[i] {
			differs = true
		}
	}
	if !differs {
		t.Fatal("different seeds produced identical perturbations")
	}

	// Perturbed copies stay row-stochastic.
	for i, v := range applyOnes(p1) {
		if math.Abs(v-1) > 1e-12 {
			t.Fatalf("perturbed row %d sums to %g", i, v)
		}
	}
}

func TestMobilityRejectsBadEdges(t *testing.T) {
	if _, err := NewMobility(0, nil); !errors.Is(err, core.ErrEmptyGraph) {
		t.Fatalf("expected ErrEmptyGraph, got %v", err)
	}
	_, err := NewMobility(2, []Edge{{From: 0, To: 5, Weight: 1}})
	if !errors.Is(err, core.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for out-of-range edge, got %v", err)
	}
	_, err = NewMobility(2, []Edge{{From: 0, To: 1, Weight: -1}})
	if !errors.Is(err, core.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for negative weight, got %v", err)
	}
}
