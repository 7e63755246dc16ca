package epi

import (
	"fmt"

	"github.com/lshin-apl/bucky/domain/core"
)

// Layout describes the flattened state tensor handed to the ODE solver:
// compartment bins ordered S, E[0..k), Ia[0..k), I[0..k), Ic[0..k),
// Rh[0..k), R, D, IncH, IncC, each bin an age x node plane. Values are
// fractions of node population, so every bin lives in [0,1].
//
// IncH and IncC are pure accumulators for hospital admissions and
// report-weighted new infections; they feed nothing back into the dynamics.
type Layout struct {
	K     int // Erlang chain length
	Ages  int
	Nodes int
}

// NewLayout validates the shape once so index math can stay unchecked.
func NewLayout(k, ages, nodes int) (Layout, error) {
	if k < 1 || ages < 1 || nodes < 1 {
		return Layout{}, fmt.Errorf("%w: layout k=%d ages=%d nodes=%d", core.ErrShapeMismatch, k, ages, nodes)
	}
	return Layout{K: k, Ages: ages, Nodes: nodes}, nil
}

// Bin bases. Chains occupy K consecutive bins starting at the base.
func (l Layout) BinS() int       { return 0 }
func (l Layout) BinE(i int) int  { return 1 + i }
func (l Layout) BinIa(i int) int { return 1 + l.K + i }
func (l Layout) BinI(i int) int  { return 1 + 2*l.K + i }
func (l Layout) BinIc(i int) int { return 1 + 3*l.K + i }
func (l Layout) BinRh(i int) int { return 1 + 4*l.K + i }
func (l Layout) BinR() int       { return 1 + 5*l.K }
func (l Layout) BinD() int       { return 2 + 5*l.K }
func (l Layout) BinIncH() int    { return 3 + 5*l.K }
func (l Layout) BinIncC() int    { return 4 + 5*l.K }

// Bins is the compartment count per (age, node) pair.
func (l Layout) Bins() int { return 5*l.K + 5 }

// PlaneSize is the element count of one compartment bin.
func (l Layout) PlaneSize() int { return l.Ages * l.Nodes }

// Size is the full flattened state length.
func (l Layout) Size() int { return l.Bins() * l.PlaneSize() }

// Idx maps (bin, age, node) to the flat index.
func (l Layout) Idx(bin, a, j int) int { return (bin*l.Ages+a)*l.Nodes + j }

// Plane returns the age x node slab of one bin, indexed a*Nodes+j.
func (l Layout) Plane(x []float64, bin int) []float64 {
	return x[bin*l.PlaneSize() : (bin+1)*l.PlaneSize()]
}

// NewState allocates a zeroed state tensor.
func (l Layout) NewState() []float64 { return make([]float64, l.Size()) }

// ChainSum adds the K bins of the chain starting at base for one (age, node).
func (l Layout) ChainSum(x []float64, base, a, j int) float64 {
	var sum float64
	for i := 0; i < l.K; i++ {
		sum += x[l.Idx(base+i, a, j)]
	}
	return sum
}

// LivingSum totals every compartment except D and the accumulators for one
// (age, node); with zero fatality it is conserved by the dynamics.
func (l Layout) LivingSum(x []float64, a, j int) float64 {
	sum := x[l.Idx(l.BinS(), a, j)] + x[l.Idx(l.BinR(), a, j)]
	sum += l.ChainSum(x, l.BinE(0), a, j)
	sum += l.ChainSum(x, l.BinIa(0), a, j)
	sum += l.ChainSum(x, l.BinI(0), a, j)
	sum += l.ChainSum(x, l.BinIc(0), a, j)
	sum += l.ChainSum(x, l.BinRh(0), a, j)
	return sum
}
