package spatial

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/lshin-apl/bucky/domain/core"
)

// Edge is one weighted directed mixing link between two nodes.
type Edge struct {
	From   int
	To     int
	Weight float64
}

// sparseDensityCutoff selects CSR storage when the filled fraction of the
// mixing matrix is at or below this value.
const sparseDensityCutoff = 0.25

// Mobility is the row-normalized inter-node mixing operator. Each row is a
// probability distribution over destination nodes; the diagonal self-mixing
// term normalizes the transmission rate during calibration. The operator is
// stored dense or CSR depending on fill, behind one Apply method.
type Mobility struct {
	n     int
	dense *mat.Dense
	sp    *csrMatrix
	diag  []float64
}

type csrMatrix struct {
	n      int
	rowPtr []int
	colIdx []int
	val    []float64
}

// NewMobility builds the operator from an edge list. Duplicate edges sum.
// Nodes without a self-loop get one weighing as much as their combined
// outbound edges (an isolated node mixes only with itself), then every row
// is normalized to sum to 1.
func NewMobility(n int, edges []Edge) (*Mobility, error) {
	if n <= 0 {
		return nil, core.ErrEmptyGraph
	}
	weights := make([]map[int]float64, n)
	for i := range weights {
		weights[i] = make(map[int]float64)
	}
	nnz := 0
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, fmt.Errorf("%w: edge %d->%d outside node range", core.ErrMalformedInput, e.From, e.To)
		}
		if e.Weight < 0 {
			return nil, fmt.Errorf("%w: negative edge weight %g", core.ErrMalformedInput, e.Weight)
		}
		if _, seen := weights[e.From][e.To]; !seen {
			nnz++
		}
		weights[e.From][e.To] += e.Weight
	}
	for i := range weights {
		if weights[i][i] == 0 {
			var off float64
			for _, w := range weights[i] {
				off += w
			}
			if off == 0 {
				off = 1
			}
			weights[i][i] = off
			nnz++
		}
	}
	m := &Mobility{n: n, diag: make([]float64, n)}
	if density := float64(nnz) / float64(n*n); density <= sparseDensityCutoff {
		m.sp = newCSR(n, weights)
	} else {
		m.dense = mat.NewDense(n, n, nil)
		for i, row := range weights {
			for j, w := range row {
				m.dense.Set(i, j, w)
			}
		}
	}
	m.normalize()
	return m, nil
}

func newCSR(n int, weights []map[int]float64) *csrMatrix {
	c := &csrMatrix{n: n, rowPtr: make([]int, n+1)}
	for i, row := range weights {
		cols := make([]int, 0, len(row))
		for j := range row {
			cols = append(cols, j)
		}
		// deterministic column order keeps perturbation draws reproducible
		sortInts(cols)
		for _, j := range cols {
			c.colIdx = append(c.colIdx, j)
			c.val = append(c.val, weights[i][j])
		}
		c.rowPtr[i+1] = len(c.colIdx)
	}
	return c
}

func sortInts(x []int) {
	for i := 1; i < len(x); i++ {
		for j := i; j > 0 && x[j] < x[j-1]; j-- {
			x[j], x[j-1] = x[j-1], x[j]
		}
	}
}

// normalize makes every row sum to 1 and refreshes the cached diagonal.
func (m *Mobility) normalize() {
	switch {
	case m.sp != nil:
		for i := 0; i < m.n; i++ {
			var sum float64
			for k := m.sp.rowPtr[i]; k < m.sp.rowPtr[i+1]; k++ {
				sum += m.sp.val[k]
			}
			if sum == 0 {
				continue
			}
			m.diag[i] = 0
			for k := m.sp.rowPtr[i]; k < m.sp.rowPtr[i+1]; k++ {
				m.sp.val[k] /= sum
				if m.sp.colIdx[k] == i {
					m.diag[i] = m.sp.val[k]
				}
			}
		}
	default:
		for i := 0; i < m.n; i++ {
			var sum float64
			for j := 0; j < m.n; j++ {
				sum += m.dense.At(i, j)
			}
			if sum == 0 {
				continue
			}
			for j := 0; j < m.n; j++ {
				m.dense.Set(i, j, m.dense.At(i, j)/sum)
			}
			m.diag[i] = m.dense.At(i, i)
		}
	}
}

// Nodes returns the node count.
func (m *Mobility) Nodes() int { return m.n }

// Diag returns the self-mixing weights A_ii.
func (m *Mobility) Diag() []float64 { return m.diag }

// Sparse reports whether the operator is CSR-backed.
func (m *Mobility) Sparse() bool { return m.sp != nil }

// Apply computes dst = diag(A)*src + offScale*(A - diag(A))*src. With
// offScale 1 this is the plain matrix-vector product; smaller values damp
// only the inter-node (off-diagonal) mixing, which is how NPI mobility
// damping enters the model. dst and src must not alias.
func (m *Mobility) Apply(dst, src []float64, offScale float64) {
	if m.sp != nil {
		m.sp.mulVec(dst, src)
	} else {
		out := mat.NewVecDense(m.n, dst)
		out.MulVec(m.dense, mat.NewVecDense(m.n, src))
	}
	if offScale != 1 {
		for i := range dst {
			self := m.diag[i] * src[i]
			dst[i] = self + offScale*(dst[i]-self)
		}
	}
}

// ApplyTranspose computes dst = scale * A^T src: the pull-side diffusion
// used by the force of infection and the renewal estimator, where node j
// accumulates pressure from every node that mixes into it. scale damps the
// whole operator (NPI mobility damping). dst and src must not alias.
func (m *Mobility) ApplyTranspose(dst, src []float64, scale float64) {
	if m.sp != nil {
		for i := range dst {
			dst[i] = 0
		}
		for i := 0; i < m.n; i++ {
			v := src[i]
			if v == 0 {
				continue
			}
			for k := m.sp.rowPtr[i]; k < m.sp.rowPtr[i+1]; k++ {
				dst[m.sp.colIdx[k]] += m.sp.val[k] * v
			}
		}
	} else {
		out := mat.NewVecDense(m.n, dst)
		out.MulVec(m.dense.T(), mat.NewVecDense(m.n, src))
	}
	if scale != 1 {
		for i := range dst {
			dst[i] *= scale
		}
	}
}

func (c *csrMatrix) mulVec(dst, src []float64) {
	for i := 0; i < c.n; i++ {
		var sum float64
		for k := c.rowPtr[i]; k < c.rowPtr[i+1]; k++ {
			sum += c.val[k] * src[c.colIdx[k]]
		}
		dst[i] = sum
	}
}

// Perturb returns a copy whose edge weights are jittered by independent
// lognormal factors exp(sd*Z) and re-normalized. The receiver is untouched,
// so the base operator can be shared across trials.
func (m *Mobility) Perturb(rng *rand.Rand, sd float64) *Mobility {
	out := &Mobility{n: m.n, diag: make([]float64, m.n)}
	if m.sp != nil {
		out.sp = &csrMatrix{
			n:      m.n,
			rowPtr: append([]int(nil), m.sp.rowPtr...),
			colIdx: append([]int(nil), m.sp.colIdx...),
			val:    make([]float64, len(m.sp.val)),
		}
		for k, v := range m.sp.val {
			out.sp.val[k] = v * math.Exp(sd*rng.NormFloat64())
		}
	} else {
		out.dense = mat.DenseCopyOf(m.dense)
		for i := 0; i < m.n; i++ {
			for j := 0; j < m.n; j++ {
				if v := out.dense.At(i, j); v != 0 {
					out.dense.Set(i, j, v*math.Exp(sd*rng.NormFloat64()))
				}
			}
		}
	}
	out.normalize()
	return out
}
