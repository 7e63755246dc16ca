package spatial

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/lshin-apl/bucky/domain/core"
)

// PopFloor is the strictly positive floor applied to every age-node count so
// per-capita normalizations never divide by zero.
const PopFloor = 1e-5

// Population is the age-group x node count tensor with its derived rollups.
// All derived totals are computed once at construction and never recomputed.
type Population struct {
	Ages  int
	Nodes int

	nij []float64 // age-major counts, clipped to >= PopFloor

	nj    []float64 // per-node totals
	ng    []float64 // mid-level group totals
	total float64   // root total
}

// NewPopulation builds the tensor from per-node age vectors, which must all
// share one length. Counts are clipped to the positive floor at ingestion.
func NewPopulation(perNode [][]float64, h *Hierarchy) (*Population, error) {
	if len(perNode) != h.Nodes() {
		return nil, fmt.Errorf("%w: %d population rows for %d nodes", core.ErrShapeMismatch, len(perNode), h.Nodes())
	}
	if len(perNode) == 0 || len(perNode[0]) == 0 {
		return nil, fmt.Errorf("%w: empty age stratification", core.ErrMissingAttr)
	}
	ages := len(perNode[0])
	p := &Population{
		Ages:  ages,
		Nodes: h.Nodes(),
		nij:   make([]float64, ages*h.Nodes()),
		nj:    make([]float64, h.Nodes()),
	}
	for j, row := range perNode {
		if len(row) != ages {
			return nil, fmt.Errorf("%w: node %d has %d age bins, want %d", core.ErrShapeMismatch, j, len(row), ages)
		}
		for a, v := range row {
			if v < PopFloor {
				v = PopFloor
			}
			p.nij[a*p.Nodes+j] = v
			p.nj[j] += v
		}
	}
	p.ng = h.GroupSum(p.nj)
	p.total = floats.Sum(p.nj)
	return p, nil
}

// At returns the count for age a in node j.
func (p *Population) At(a, j int) float64 { return p.nij[a*p.Nodes+j] }

// AgeRow returns the per-node counts of age group a.
func (p *Population) AgeRow(a int) []float64 { return p.nij[a*p.Nodes : (a+1)*p.Nodes] }

// NodeTotals returns the per-node population totals.
func (p *Population) NodeTotals() []float64 { return p.nj }

// GroupTotals returns the mid-level rollup of node totals.
func (p *Population) GroupTotals() []float64 { return p.ng }

// Total returns the root population.
func (p *Population) Total() float64 { return p.total }

// AgeShare returns N[a,j] / N[j], the share of node j in age group a.
func (p *Population) AgeShare(a, j int) float64 { return p.At(a, j) / p.nj[j] }
