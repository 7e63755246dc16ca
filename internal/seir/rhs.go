// Package seir implements the compartmental right-hand side consumed by the
// adaptive ODE solver: an Erlang-chain SEIR model per (age group, node) with
// mobility- and contact-mixed force of infection and a one-sided stability
// clamp at the [0,1] simplex boundary.
package seir

import (
	"gonum.org/v1/gonum/mat"

	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/tensor"
	"github.com/lshin-apl/bucky/ports"
)

// ContactSchedule is the per-day age-mixing matrix sequence. A single entry
// means contacts are static over the horizon; otherwise entry d applies to
// simulation day d, clamped at the last entry for solver overshoot.
type ContactSchedule struct {
	mats []*mat.Dense
}

// NewContactSchedule wraps precomputed per-day matrices.
func NewContactSchedule(mats []*mat.Dense) *ContactSchedule {
	return &ContactSchedule{mats: mats}
}

// At returns the mixing matrix for time t.
func (c *ContactSchedule) At(t float64) *mat.Dense {
	if len(c.mats) == 1 {
		return c.mats[0]
	}
	d := int(t)
	if d < 0 {
		d = 0
	}
	if d >= len(c.mats) {
		d = len(c.mats) - 1
	}
	return c.mats[d]
}

// Args are the static inputs of one trial's derivative: everything except
// (t, state) that the RHS reads. Params must carry the calibrated per-node
// fields.
type Args struct {
	Layout   epi.Layout
	Pop      *spatial.Population
	Mob      *spatial.Mobility
	P        *epi.Params
	NPI      *ports.NPISchedule
	Contacts *ContactSchedule
}

// RHS builds the derivative function. The returned closure is pure in
// (t, x); the scratch buffers it captures only hold intermediates of the
// current evaluation, never state between evaluations.
func RHS(a *Args) ports.Derivative {
	l := a.Layout
	k := l.K
	nAges, nNodes := l.Ages, l.Nodes
	p := a.P

	sigma := p.Sigma() * float64(k)
	gamma := p.Gamma() * float64(k)
	gammaH := p.GammaHosp() * float64(k)
	theta := p.ThetaLOS() * float64(k)

	y := make([]float64, l.Size())
	pressure := make([]float64, nAges*nNodes)
	diffused := make([]float64, nAges*nNodes)
	foi := make([]float64, nAges*nNodes)

	return func(t float64, x []float64, dst []float64) {
		// Stability policy: derivatives are computed from the state clipped
		// to [0,1]; the raw state decides the one-sided clamp at the end.
		copy(y, x)
		tensor.ClipSlice(y, 0, 1)
		trans, mobMult, _ := a.NPI.At(t)

		// Node-level infectious pressure per age: population-weighted sum
		// of every infectious chain, asymptomatics down-weighted.
		for ai := 0; ai < nAges; ai++ {
			for j := 0; j < nNodes; j++ {
				iaSum := l.ChainSum(y, l.BinIa(0), ai, j)
				iTot := iaSum + l.ChainSum(y, l.BinI(0), ai, j) + l.ChainSum(y, l.BinIc(0), ai, j)
				pressure[ai*nNodes+j] = a.Pop.At(ai, j) * (iTot - (1-p.RelInfect)*iaSum)
			}
		}

		// Diffuse across nodes through the transposed mobility operator,
		// whole matrix damped by the NPI mobility multiplier.
		for ai := 0; ai < nAges; ai++ {
			a.Mob.ApplyTranspose(diffused[ai*nNodes:(ai+1)*nNodes], pressure[ai*nNodes:(ai+1)*nNodes], mobMult)
		}

		// Mix across age groups through the day's contact matrix.
		c := a.Contacts.At(t)
		for ai := 0; ai < nAges; ai++ {
			for j := 0; j < nNodes; j++ {
				var sum float64
				for b := 0; b < nAges; b++ {
					sum += c.At(ai, b) * diffused[b*nNodes+j]
				}
				foi[ai*nNodes+j] = sum
			}
		}

		for ai := 0; ai < nAges; ai++ {
			sym := p.SymFrac[ai]
			for j := 0; j < nNodes; j++ {
				betaEff := trans * p.Beta[j]
				hosp := p.HospFracNode[ai][j]
				fEff := p.FatalEffNode[ai][j]

				infect := betaEff * y[l.Idx(l.BinS(), ai, j)] * foi[ai*nNodes+j] / a.Pop.At(ai, j)

				dst[l.Idx(l.BinS(), ai, j)] = -infect

				eLast := y[l.Idx(l.BinE(k-1), ai, j)]
				dst[l.Idx(l.BinE(0), ai, j)] = infect - sigma*y[l.Idx(l.BinE(0), ai, j)]
				for i := 1; i < k; i++ {
					dst[l.Idx(l.BinE(i), ai, j)] = sigma * (y[l.Idx(l.BinE(i-1), ai, j)] - y[l.Idx(l.BinE(i), ai, j)])
				}

				dst[l.Idx(l.BinIa(0), ai, j)] = (1-sym)*sigma*eLast - gamma*y[l.Idx(l.BinIa(0), ai, j)]
				for i := 1; i < k; i++ {
					dst[l.Idx(l.BinIa(i), ai, j)] = gamma * (y[l.Idx(l.BinIa(i-1), ai, j)] - y[l.Idx(l.BinIa(i), ai, j)])
				}

				dst[l.Idx(l.BinI(0), ai, j)] = sym*(1-hosp)*sigma*eLast - gamma*y[l.Idx(l.BinI(0), ai, j)]
				for i := 1; i < k; i++ {
					dst[l.Idx(l.BinI(i), ai, j)] = gamma * (y[l.Idx(l.BinI(i-1), ai, j)] - y[l.Idx(l.BinI(i), ai, j)])
				}

				dst[l.Idx(l.BinIc(0), ai, j)] = sym*hosp*sigma*eLast - gammaH*y[l.Idx(l.BinIc(0), ai, j)]
				for i := 1; i < k; i++ {
					dst[l.Idx(l.BinIc(i), ai, j)] = gammaH * (y[l.Idx(l.BinIc(i-1), ai, j)] - y[l.Idx(l.BinIc(i), ai, j)])
				}

				icLast := y[l.Idx(l.BinIc(k-1), ai, j)]
				dst[l.Idx(l.BinRh(0), ai, j)] = gammaH*icLast - theta*y[l.Idx(l.BinRh(0), ai, j)]
				for i := 1; i < k; i++ {
					dst[l.Idx(l.BinRh(i), ai, j)] = theta * (y[l.Idx(l.BinRh(i-1), ai, j)] - y[l.Idx(l.BinRh(i), ai, j)])
				}

				rhLast := y[l.Idx(l.BinRh(k-1), ai, j)]
				dst[l.Idx(l.BinR(), ai, j)] = gamma*(y[l.Idx(l.BinI(k-1), ai, j)]+y[l.Idx(l.BinIa(k-1), ai, j)]) +
					(1-fEff)*theta*rhLast
				dst[l.Idx(l.BinD(), ai, j)] = fEff * theta * rhLast

				// Pure accumulators: hospital admissions and report-weighted
				// new infections.
				dst[l.Idx(l.BinIncH(), ai, j)] = gammaH * icLast
				dst[l.Idx(l.BinIncC(), ai, j)] = sym * p.Reporting[j] * sigma * eLast
			}
		}

		// One-sided clamp: a value already outside [0,1] may only move back
		// toward the interior.
		for i, v := range x {
			if v <= 0 && dst[i] < 0 {
				dst[i] = 0
			} else if v >= 1 && dst[i] > 0 {
				dst[i] = 0
			}
		}
	}
}
