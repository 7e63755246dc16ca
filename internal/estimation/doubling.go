package estimation

import (
	"math"

	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// EstimateDoublingTime computes the recent case doubling time per node:
// Td = window / log2(casesNow / casesWindowAgo), on the reporting-adjusted
// rolled cumulative series. The fallback gate here is plausibility of the
// estimate itself (finite and above minDoublingT) rather than a case-count
// threshold; zero-count nodes produce Inf or NaN ratios and simply keep the
// coarser value. When meanWindow > 0 the trailing meanWindow days are
// averaged, otherwise the most recent day is returned.
func EstimateDoublingTime(agg *spatial.Aggregator, daysBack, window, meanWindow int, minDoublingT float64, reporting *tensor.Series) []float64 {
	if meanWindow > 0 {
		daysBack = meanWindow
	}
	cum := agg.RollingCumCases()
	if daysBack+window > cum.Days {
		daysBack = cum.Days - window
	}
	if daysBack < 1 {
		out := make([]float64, cum.Nodes)
		tensor.Fill(out, math.NaN())
		return out
	}

	nodes := cum.Nodes
	now := tensor.NewSeries(daysBack, nodes)
	old := tensor.NewSeries(daysBack, nodes)
	for i := 0; i < daysBack; i++ {
		for j := 0; j < nodes; j++ {
			r := reportingAt(reporting, reporting.Days-daysBack+i, j)
			rOld := reportingAt(reporting, reporting.Days-daysBack-window+i, j)
			now.Set(i, j, cum.At(cum.Days-daysBack+i, j)/r)
			old.Set(i, j, cum.At(cum.Days-daysBack-window+i, j)/rOld)
		}
	}

	td := tensor.NewSeries(daysBack, nodes)
	h := agg.H
	nowGrp := h.GroupSumSeries(now)
	oldGrp := h.GroupSumSeries(old)
	nowRoot := tensor.SumRows(now)
	oldRoot := tensor.SumRows(old)
	w := float64(window)
	for i := 0; i < daysBack; i++ {
		// Root estimate fills the row, then finer levels overwrite where
		// their own Td is finite and plausible.
		root := w / math.Log2(nowRoot[i]/oldRoot[i])
		row := td.Row(i)
		tensor.Fill(row, root)
		for j := 0; j < nodes; j++ {
			g := h.GroupOf(j)
			if v := w / math.Log2(nowGrp.At(i, g)/oldGrp.At(i, g)); trustTd(v, minDoublingT) {
				row[j] = v
			}
			if v := w / math.Log2(now.At(i, j)/old.At(i, j)); trustTd(v, minDoublingT) {
				row[j] = v
			}
		}
	}

	if meanWindow > 0 {
		return tensor.TailMean(td, meanWindow)
	}
	return append([]float64(nil), td.FromEnd(0)...)
}

// reportingAt reads the per-day ascertainment, clamping the day index so a
// history longer than the reporting window reuses its oldest value.
func reportingAt(s *tensor.Series, d, j int) float64 {
	if d < 0 {
		d = 0
	}
	if d >= s.Days {
		d = s.Days - 1
	}
	return s.At(d, j)
}

func trustTd(td, minTd float64) bool {
	return !math.IsNaN(td) && !math.IsInf(td, 0) && td > minTd
}
