package calibration

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/estimation"
	"github.com/lshin-apl/bucky/internal/seir"
	"github.com/lshin-apl/bucky/internal/tensor"
	"github.com/lshin-apl/bucky/ports"
)

// Bounds of the per-group CFR/CHR rescaling factors and the calibrated
// ascertainment rate.
const (
	rescaleFloor    = 0.1
	rescaleCeil     = 10.0
	reportingFloor  = 0.2
	reportingCeil   = 1.0
	reportingShape  = 50.0
	initFactorShape = 4.0
)

// Pipeline owns the per-trial calibration. Everything it references is
// read-only across trials; each ResetForTrial call derives its own streams
// from the trial seed.
type Pipeline struct {
	Agg     *spatial.Aggregator
	Mob     *spatial.Mobility
	Source  ports.ParameterSource
	Sampler ports.Sampler
	NPI     *ports.NPISchedule
	Static  *Static
	Horizon int
}

// Trial is one fully calibrated, ready-to-integrate model instance.
type Trial struct {
	Seed         uint64
	P            *epi.Params
	Mob          *spatial.Mobility
	Layout       epi.Layout
	Y0           []float64
	Contacts     *seir.ContactSchedule
	DoublingTime []float64
}

// ResetForTrial reseeds every random stream from the trial seed and runs
// the calibration sequence: parameter redraw (or verbatim override),
// mobility perturbation, CFR/CHR rescaling against the census anchors,
// ascertainment sampling, transmission-rate derivation from the renewal Rt,
// and initial-condition assembly. A non-finite assembled state is a
// trial-scoped failure, never fatal.
func (c *Pipeline) ResetForTrial(seed uint64, override *epi.Params) (*Trial, error) {
	paramRng := core.Stream(core.SubSeed(seed, "params"))
	mobRng := core.Stream(core.SubSeed(seed, "mobility"))
	calRng := core.Stream(core.SubSeed(seed, "calibration"))

	var p *epi.Params
	if override != nil {
		p = override.Clone()
	} else {
		drawn, err := c.Source.Draw(paramRng)
		if err != nil {
			return nil, core.NewTrialError(seed, "draw", err)
		}
		p = drawn
	}
	if err := p.Validate(); err != nil {
		return nil, core.NewTrialError(seed, "draw", err)
	}

	mob := c.Mob.Perturb(mobRng, p.MobilitySD)

	ages := c.Agg.Pop.Ages
	nodes := c.Agg.Pop.Nodes
	p.HospFracNode = broadcastPerAge(p.HospFrac, nodes)
	p.FatalFracNode = broadcastPerAge(p.FatalFrac, nodes)

	if c.Static.HospAnchor != nil {
		c.rescaleToAnchor(p.FatalFracNode, c.Static.GroupCFR, calRng, p.RRVar, 1e-10, nil)
		c.rescaleToAnchor(p.HospFracNode, c.Static.GroupCHR, calRng, p.RRVar, 0, p.FatalFracNode)
	}

	// Effective hospital-exit death fraction; overwritten below when the
	// occupancy anchor rescales the hospital track.
	p.FatalEffNode = make([][]float64, ages)
	for a := 0; a < ages; a++ {
		row := make([]float64, nodes)
		for j := 0; j < nodes; j++ {
			row[j] = clamp(p.FatalFracNode[a][j]/p.HospFracNode[a][j], 0, 1)
		}
		p.FatalEffNode[a] = row
	}

	// Calibrated ascertainment: estimator output jittered per entry by a
	// mode-biased draw on [0.8x, 1.2x], clamped into the plausible band.
	crEst := estimation.EstimateReporting(c.Agg, p, p.FatalFracNode, c.Static.Baselines, reportingMinDeaths)
	cr := tensor.NewSeries(crEst.Days, crEst.Nodes)
	for d := 0; d < crEst.Days; d++ {
		for j := 0; j < crEst.Nodes; j++ {
			mode := clamp(crEst.At(d, j), reportingFloor, reportingCeil)
			lo := math.Max(0.8*mode, reportingFloor)
			hi := math.Min(1.2*mode, reportingCeil)
			cr.Set(d, j, c.Sampler.BoundedMode(calRng, lo, mode, hi, reportingShape))
		}
	}
	p.Reporting = tensor.TailMean(cr, reportingMeanDays)

	rt := estimation.EstimateRt(c.Agg, mob, p, rtDaysBack)
	p.RtNode = make([]float64, nodes)
	p.Beta = make([]float64, nodes)
	diag := mob.Diag()
	for j := 0; j < nodes; j++ {
		p.RtNode[j] = rt[j] * p.BetaScale
		p.Beta[j] = p.RtNode[j] * p.Gamma() / diag[j]
	}

	doubling := estimation.EstimateDoublingTime(c.Agg, 7, 7, reportingMeanDays, 1.0, cr)

	layout, err := epi.NewLayout(p.K(), ages, nodes)
	if err != nil {
		return nil, err
	}
	y0 := c.buildInitialState(layout, p, calRng)
	if !tensor.AllFinite(y0) {
		return nil, core.NewTrialError(seed, "init", core.ErrNonFiniteState)
	}

	return &Trial{
		Seed:         seed,
		P:            p,
		Mob:          mob,
		Layout:       layout,
		Y0:           y0,
		Contacts:     c.Static.BuildContacts(p, c.NPI, c.Horizon),
		DoublingTime: doubling,
	}, nil
}

// rescaleToAnchor multiplies the per-(age,node) probability plane so the
// population-weighted mid-level mean matches the anchor, per group, bounded
// to [0.1, 10]x and jittered by a truncated-normal relative-risk factor.
// Groups whose anchor or implied ratio is undefined inherit the
// population-weighted root factor. floorAt clips the result from below;
// when floorPlane is set the result is additionally clipped to stay at or
// above it elementwise (hospitalization may never undercut fatality).
func (c *Pipeline) rescaleToAnchor(plane [][]float64, anchor []float64, rng *rand.Rand, rrVar, floorAt float64, floorPlane [][]float64) {
	h := c.Agg.H
	pop := c.Agg.Pop
	groups := h.Groups()
	ages := len(plane)

	// Population-weighted group mean of the plane, averaged over ages.
	implied := make([]float64, groups)
	wsum := make([]float64, pop.Nodes)
	for a := 0; a < ages; a++ {
		for j := range wsum {
			wsum[j] = plane[a][j] * pop.At(a, j)
		}
		grpW := h.GroupSum(wsum)
		grpN := h.GroupSum(pop.AgeRow(a))
		for g := 0; g < groups; g++ {
			implied[g] += grpW[g] / grpN[g] / float64(ages)
		}
	}

	fac := make([]float64, groups)
	var rootNum, rootDen float64
	grpPop := pop.GroupTotals()
	for g := 0; g < groups; g++ {
		fac[g] = anchor[g] / implied[g]
		if !math.IsNaN(fac[g]) && !math.IsInf(fac[g], 0) {
			rootNum += grpPop[g] * fac[g]
			rootDen += grpPop[g]
		}
	}
	rootFac := rootNum / rootDen
	for g := 0; g < groups; g++ {
		if math.IsNaN(fac[g]) || math.IsInf(fac[g], 0) {
			fac[g] = rootFac
		}
		fac[g] *= c.Sampler.TruncNormal(rng, 1, rrVar, 1e-6, math.Inf(1))
		fac[g] = clamp(fac[g], rescaleFloor, rescaleCeil)
	}

	for a := 0; a < ages; a++ {
		for j := range plane[a] {
			v := plane[a][j] * fac[h.GroupOf(j)]
			lo := floorAt
			if floorPlane != nil && floorPlane[a][j] > lo {
				lo = floorPlane[a][j]
			}
			plane[a][j] = clamp(v, lo, 1)
		}
	}
}

// buildInitialState apportions the recent incident-case history into the
// compartments: the last Ti days of (reporting-adjusted) incidence seed the
// infectious chains, the hospital track is derived from the
// hospitalization/discharge rate ratio and then, when an occupancy anchor
// exists, rescaled in a second pass against the anchor using the unscaled
// hospital population computed first.
func (c *Pipeline) buildInitialState(l epi.Layout, p *epi.Params, rng *rand.Rand) []float64 {
	pop := c.Agg.Pop
	hist := c.Agg.Hist
	k := l.K
	nAges := float64(l.Ages)

	eFac := c.Sampler.BoundedMode(rng, 0.9, 1.0, 1.1, initFactorShape)
	rFac := c.Sampler.BoundedMode(rng, 0.9, 1.0, 1.1, initFactorShape)
	hFac := c.Sampler.BoundedMode(rng, 0.9, 1.0, 1.1, initFactorShape)

	// Reporting-adjusted infections over the last Ti (possibly fractional)
	// days.
	currentI := tensor.FractionalTailSum(hist.IncCases, p.Ti)
	for j := range currentI {
		if math.IsNaN(currentI[j]) || currentI[j] < 0 {
			currentI[j] = 0
		}
		currentI[j] /= p.Reporting[j]
	}

	lastCases := hist.CumCases.FromEnd(0)
	lastDeaths := hist.CumDeaths.FromEnd(0)

	rhRatio := p.GammaHosp() / p.ThetaLOS()
	x := l.NewState()
	rInit := make([]float64, l.Ages*l.Nodes)

	for a := 0; a < l.Ages; a++ {
		sym := p.SymFrac[a]
		for j := 0; j < l.Nodes; j++ {
			n := pop.At(a, j)
			iInit := eFac * currentI[j] / n / nAges
			dInit := lastDeaths[j] / n / nAges
			recovered := lastCases[j] / sym / p.Reporting[j] * rFac
			rInit[a*l.Nodes+j] = recovered/n/nAges - dInit - iInit/sym

			hosp := p.HospFracNode[a][j]
			for i := 0; i < k; i++ {
				x[l.Idx(l.BinI(i), a, j)] = (1 - hosp) * iInit / float64(k)
				x[l.Idx(l.BinIc(i), a, j)] = hosp * iInit / float64(k)
				x[l.Idx(l.BinRh(i), a, j)] = hosp * iInit * rhRatio / float64(k)
				x[l.Idx(l.BinIa(i), a, j)] = (1 - sym) / sym * iInit / float64(k)
				x[l.Idx(l.BinE(i), a, j)] = eFac * p.RtNode[j] * p.Gamma() / p.Sigma() * iInit / float64(k)
			}
			x[l.Idx(l.BinD(), a, j)] = dInit
			x[l.Idx(l.BinIncC(), a, j)] = lastCases[j] / n / nAges
		}
	}

	// Second pass: the anchor rescale factor depends on the unscaled
	// hospital population assembled above.
	if c.Static.HospAnchor != nil {
		h := c.Agg.H
		nodeHosp := make([]float64, l.Nodes)
		for a := 0; a < l.Ages; a++ {
			for j := 0; j < l.Nodes; j++ {
				nodeHosp[j] += l.ChainSum(x, l.BinRh(0), a, j) * pop.At(a, j)
			}
		}
		grpHosp := h.GroupSum(nodeHosp)
		rootFrac := floats.Sum(c.Static.HospAnchor) / floats.Sum(grpHosp)
		for a := 0; a < l.Ages; a++ {
			for j := 0; j < l.Nodes; j++ {
				g := h.GroupOf(j)
				frac := c.Static.HospAnchor[g] / grpHosp[g]
				if math.IsNaN(frac) || math.IsInf(frac, 0) {
					frac = rootFrac
				}
				scale := frac * hFac
				for i := 0; i < k; i++ {
					x[l.Idx(l.BinIc(i), a, j)] *= scale
					x[l.Idx(l.BinRh(i), a, j)] *= scale
				}
				p.FatalEffNode[a][j] = clamp(p.FScaling*p.FatalFracNode[a][j]/p.HospFracNode[a][j], 0, 1)
			}
		}
	}

	for a := 0; a < l.Ages; a++ {
		for j := 0; j < l.Nodes; j++ {
			r := rInit[a*l.Nodes+j] - l.ChainSum(x, l.BinRh(0), a, j)
			x[l.Idx(l.BinR(), a, j)] = r
			x[l.Idx(l.BinS(), a, j)] = 1 - l.LivingSum(x, a, j) - x[l.Idx(l.BinD(), a, j)]
		}
	}
	return x
}

func broadcastPerAge(perAge []float64, nodes int) [][]float64 {
	out := make([][]float64, len(perAge))
	for a, v := range perAge {
		row := make([]float64, nodes)
		tensor.Fill(row, v)
		out[a] = row
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
