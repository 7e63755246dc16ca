// Package estimation holds the pure estimators that read the historical
// data layer: reproduction number via the discrete renewal equation,
// doubling time, and case ascertainment. All three follow the same
// hierarchical fallback: a root-level estimate that is always populated,
// opportunistically overwritten by mid-level and then node-level estimates
// wherever those are finite and pass a trust gate.
package estimation

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// minIncidenceTrust is the trailing-7-day mean incidence a group or node
// needs before its own Rt estimate is trusted over the coarser one.
const minIncidenceTrust = 25.0

// EstimateRt estimates the per-node reproduction number from the smoothed,
// reporting-adjusted incident case history via a renewal-equation
// convolution with a Gamma generation-interval kernel. daysBack trailing
// days contribute; the root uses their arithmetic mean, groups an
// arithmetic mean behind the trust gate, nodes a geometric mean behind the
// same gate. If the root itself cannot be computed the prior RtEstimate
// fills every node.
func EstimateRt(agg *spatial.Aggregator, mob *spatial.Mobility, p *epi.Params, daysBack int) []float64 {
	inc := agg.RollingIncCases()
	nodes := inc.Nodes
	days := inc.Days

	// Reporting-adjusted incidence and its mobility-weighted counterpart:
	// each node's exposure-weighted history is the transposed mixing
	// operator applied day by day.
	adj := tensor.NewSeries(days, nodes)
	tot := tensor.NewSeries(days, nodes)
	for d := 0; d < days; d++ {
		row := adj.Row(d)
		for j := 0; j < nodes; j++ {
			row[j] = inc.At(d, j) / p.Reporting[j]
		}
		mob.ApplyTranspose(tot.Row(d), row, 1)
	}

	w := generationKernel(p, days)

	// Root: collapse to one column, always produce a value.
	adjRoot := tensor.SumRows(adj)
	totRoot := tensor.SumRows(tot)
	rootRatios := renewalRatios(adjRoot, totRoot, w, daysBack)
	root := finiteMean(rootRatios)
	if !isFinitePositive(root) {
		root = p.RtEstimate
	}
	out := make([]float64, nodes)
	tensor.Fill(out, root)

	// Mid level: arithmetic mean per group behind the trust gate.
	h := agg.H
	adjGrp := h.GroupSumSeries(adj)
	totGrp := h.GroupSumSeries(tot)
	grpRt := make([]float64, h.Groups())
	for g := 0; g < h.Groups(); g++ {
		ratios := renewalRatios(column(adjGrp, g), column(totGrp, g), w, daysBack)
		m, err := stats.Mean(ratios)
		if err != nil || !isFinitePositive(m) {
			grpRt[g] = math.NaN()
			continue
		}
		grpRt[g] = m
	}
	grpTrust := trailingMeans(adjGrp, 7)
	for j := 0; j < nodes; j++ {
		g := h.GroupOf(j)
		if isFinitePositive(grpRt[g]) && grpTrust[g] > minIncidenceTrust {
			out[j] = grpRt[g]
		}
	}

	// Node level: geometric mean, same gate.
	nodeTrust := trailingMeans(adj, 7)
	for j := 0; j < nodes; j++ {
		if nodeTrust[j] <= minIncidenceTrust {
			continue
		}
		ratios := renewalRatios(column(adj, j), column(tot, j), w, daysBack)
		gm, err := stats.GeometricMean(ratios)
		if err != nil || !isFinitePositive(gm) {
			continue
		}
		out[j] = gm
	}
	return out
}

// generationKernel builds the reversed, normalized Gamma(shape, Tg/shape)
// weight vector spanning the history. The two leading zeros mirror the
// renewal convolution's one-day exclusion of the current day.
func generationKernel(p *epi.Params, days int) []float64 {
	k := p.KernelShape
	theta := p.Tg / k
	g := distuv.Gamma{Alpha: k, Beta: 1 / theta}
	w := make([]float64, days)
	for i := range w {
		x := float64(i) - 1
		if x < 0 {
			x = 0
		}
		w[i] = g.Prob(x)
	}
	if sum := floats.Sum(w); sum > 0 {
		floats.Scale(1/sum, w)
	}
	floats.Reverse(w)
	return w
}

// renewalRatios returns incidence[-d] / sum(w[d:] * weighted[:len-d]) for
// d = 1..daysBack. Non-finite ratios are kept; callers mask them.
func renewalRatios(inc, weighted, w []float64, daysBack int) []float64 {
	n := len(inc)
	ratios := make([]float64, daysBack)
	for i := 0; i < daysBack; i++ {
		d := i + 1
		ratios[i] = inc[n-d] / floats.Dot(w[d:], weighted[:n-d])
	}
	return ratios
}

// column extracts one node's day series as a slice.
func column(s *tensor.Series, j int) []float64 {
	out := make([]float64, s.Days)
	for d := 0; d < s.Days; d++ {
		out[d] = s.At(d, j)
	}
	return out
}

// trailingMeans returns the mean of the last n days per column.
func trailingMeans(s *tensor.Series, n int) []float64 {
	if n > s.Days {
		n = s.Days
	}
	out := make([]float64, s.Nodes)
	for j := 0; j < s.Nodes; j++ {
		var sum float64
		for d := s.Days - n; d < s.Days; d++ {
			sum += s.At(d, j)
		}
		out[j] = sum / float64(n)
	}
	return out
}

// finiteMean averages only the finite entries; NaN when none are.
func finiteMean(vals []float64) float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
