// Package postprocess collapses raw solver trajectories into the per-node
// output series: age dimensions are folded out against population, the
// report-weighted accumulators are differenced into daily incidence rebased
// on the tail of the observed history, and the census-style occupancy
// series are derived from the hospital track.
package postprocess

import (
	"time"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/tensor"
	"github.com/lshin-apl/bucky/ports"
)

// Inputs bundles the trial pieces a Frame is assembled from.
type Inputs struct {
	RunID core.RunID
	Spawn int
	Seed  uint64
	Start time.Time

	Layout epi.Layout
	P      *epi.Params
	H      *spatial.Hierarchy
	Pop    *spatial.Population
	Hist   *spatial.History
	NPI    *ports.NPISchedule

	MobilityDiag []float64
	DoublingTime []float64
}

// Build folds one trajectory (one state row per output day, day 0 first)
// into a Frame.
func Build(in *Inputs, traj [][]float64) *ports.Frame {
	l := in.Layout
	days := len(traj)
	nodes := l.Nodes

	cumReported := collapse(in, traj, accChain{base: l.BinIncC(), k: 1})
	cumDeaths := collapse(in, traj, accChain{base: l.BinD(), k: 1})
	cumHospAdm := collapse(in, traj, accChain{base: l.BinIncH(), k: 1})
	currentHosp := collapse(in, traj, accChain{base: l.BinRh(0), k: l.K})
	activeAsym := collapse(in, traj, accChain{base: l.BinIa(0), k: l.K})

	// Day 0 of the simulated cumulative series continues the observed
	// history, so first-day incidence rebases against the newer of the two
	// trailing history rows (reporting corrections can make the last row
	// dip below its predecessor).
	dailyReported := diffAgainstHistory(cumReported, in.Hist.CumCases)
	dailyDeaths := diffAgainstHistory(cumDeaths, in.Hist.CumDeaths)

	// Hospital admissions have no observed history; the accumulator starts
	// at zero, so day 0 borrows the first real diff.
	dailyHosp := tensor.NewSeries(days, nodes)
	copyDiff(dailyHosp, cumHospAdm)
	if days > 1 {
		copy(dailyHosp.Row(0), dailyHosp.Row(1))
	}

	dailyCases := tensor.NewSeries(days, nodes)
	cumCases := tensor.NewSeries(days, nodes)
	reportRate := tensor.NewSeries(days, nodes)
	rEff := tensor.NewSeries(days, nodes)
	doubling := tensor.NewSeries(days, nodes)
	icu := tensor.NewSeries(days, nodes)
	vent := tensor.NewSeries(days, nodes)
	for d := 0; d < days; d++ {
		trans, _, _ := in.NPI.At(float64(d))
		for j := 0; j < nodes; j++ {
			rep := in.P.Reporting[j]
			dailyCases.Set(d, j, dailyReported.At(d, j)/rep)
			cumCases.Set(d, j, cumReported.At(d, j)/rep)
			reportRate.Set(d, j, rep)
			rEff.Set(d, j, trans*in.P.RtNode[j]*in.MobilityDiag[j])
			doubling.Set(d, j, in.DoublingTime[j])
			h := currentHosp.At(d, j)
			icu.Set(d, j, in.P.ICUFrac*h)
			vent.Set(d, j, in.P.VentFrac*in.P.ICUFrac*h)
		}
	}

	return &ports.Frame{
		RunID: in.RunID,
		Spawn: in.Spawn,
		Seed:  in.Seed,
		Start: in.Start,
		Nodes: nodeIDs(in.H),

		TotalPopulation: in.Pop.NodeTotals(),

		DailyReportedCases:    dailyReported,
		DailyCases:            dailyCases,
		DailyDeaths:           dailyDeaths,
		DailyHospitalizations: dailyHosp,
		CumReportedCases:      cumReported,
		CumCases:              cumCases,
		CumDeaths:             cumDeaths,
		CurrentHosp:           currentHosp,
		CurrentICU:            icu,
		CurrentVent:           vent,
		ActiveAsymptomatic:    activeAsym,
		CaseReportRate:        reportRate,
		REff:                  rEff,
		DoublingTime:          doubling,
	}
}

type accChain struct {
	base, k int
}

// collapse sums a compartment chain over ages weighted by population,
// yielding absolute person counts per node and day.
func collapse(in *Inputs, traj [][]float64, c accChain) *tensor.Series {
	l := in.Layout
	out := tensor.NewSeries(len(traj), l.Nodes)
	for d, x := range traj {
		row := out.Row(d)
		for a := 0; a < l.Ages; a++ {
			for j := 0; j < l.Nodes; j++ {
				var sum float64
				for i := 0; i < c.k; i++ {
					sum += x[l.Idx(c.base+i, a, j)]
				}
				row[j] += sum * in.Pop.At(a, j)
			}
		}
	}
	return out
}

// diffAgainstHistory differences a simulated cumulative series in place of
// its full horizon, anchoring day 0 against the observed history tail.
func diffAgainstHistory(cum *tensor.Series, hist *tensor.Series) *tensor.Series {
	out := tensor.NewSeries(cum.Days, cum.Nodes)
	copyDiff(out, cum)

	last := hist.FromEnd(0)
	prev := last
	if hist.Days > 1 {
		prev = hist.FromEnd(1)
	}
	row := out.Row(0)
	for j := range row {
		base := last[j]
		if prev[j] < base {
			base = prev[j]
		}
		row[j] = cum.At(0, j) - base
	}
	return out
}

// copyDiff writes cum's day-over-day differences into dst rows 1..Days-1,
// leaving row 0 for the caller to anchor.
func copyDiff(dst, cum *tensor.Series) {
	for d := 1; d < cum.Days; d++ {
		row := dst.Row(d)
		copy(row, cum.Row(d))
		for j, v := range cum.Row(d - 1) {
			row[j] -= v
		}
	}
}

func nodeIDs(h *spatial.Hierarchy) []int {
	ids := make([]int, h.Nodes())
	for j := range ids {
		ids[j] = h.NodeID(j)
	}
	return ids
}
