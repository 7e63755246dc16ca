package estimation

import (
	"gonum.org/v1/gonum/floats"

	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// Baselines holds the observed-CFR denominators of the ascertainment
// estimator. They are computed once before the trial loop, from the prior
// mean parameter set, and passed explicitly into every trial's
// EstimateReporting call so all trials compare against one canonical
// history-side baseline.
type Baselines struct {
	DaysBack int
	Lag      float64 // onset-to-reported-death delay baked into the lagged cases

	RootCFR     []float64      // observed root CFR per trailing window day
	GroupCFR    *tensor.Series // window day x group observed CFR
	GroupDeaths *tensor.Series // window day x group deaths, trust gate
	NodeCFR     *tensor.Series // window day x node observed CFR
	NodeDeaths  *tensor.Series // window day x node deaths, trust gate
}

// MeanDeathReportingLag is the population- and fatality-weighted mean delay
// between symptom onset and a reported death: the lag applied to the case
// series before comparing it with deaths.
func MeanDeathReportingLag(pop *spatial.Population, cfr [][]float64, delays []float64) float64 {
	var total float64
	byAge := make([]float64, pop.Ages)
	for a := 0; a < pop.Ages; a++ {
		for j := 0; j < pop.Nodes; j++ {
			byAge[a] += cfr[a][j] * pop.At(a, j)
		}
		byAge[a] /= pop.Total()
		total += byAge[a]
	}
	var lag float64
	for a, w := range byAge {
		lag += delays[a] * w / total
	}
	return lag
}

// ComputeBaselines derives the observed CFR series at all three levels from
// the rolled cumulative history, with the case series lagged by the mean
// death-reporting delay implied by cfr. Zero-count divisions produce NaN or
// Inf entries; EstimateReporting masks them.
func ComputeBaselines(agg *spatial.Aggregator, p *epi.Params, cfr [][]float64, daysBack int) *Baselines {
	lag := MeanDeathReportingLag(agg.Pop, cfr, p.DeathReportTime)

	recentCases := sinceFirstDay(agg.RollingCumCases())
	recentDeaths := sinceFirstDay(agg.RollingCumDeaths())

	casesLagged := tensor.LaggedTail(recentCases, daysBack, lag)
	deathsTail := tensor.LaggedTail(recentDeaths, daysBack, 0)

	bl := &Baselines{
		DaysBack:    daysBack,
		Lag:         lag,
		RootCFR:     make([]float64, daysBack),
		GroupDeaths: agg.H.GroupSumSeries(deathsTail),
		NodeDeaths:  deathsTail,
	}
	grpCases := agg.H.GroupSumSeries(casesLagged)
	bl.GroupCFR = ratioSeries(bl.GroupDeaths, grpCases)
	bl.NodeCFR = ratioSeries(deathsTail, casesLagged)
	for i := 0; i < daysBack; i++ {
		bl.RootCFR[i] = floats.Sum(deathsTail.Row(i)) / floats.Sum(casesLagged.Row(i))
	}
	return bl
}

// EstimateReporting infers the per-day, per-node case ascertainment rate as
// the ratio of the parameter-implied CFR to the observed CFR baseline:
// if the parameters say 1% of true cases die but history shows 3% of
// reported cases dying, only a third of cases are being reported. Root fills
// everything; group and node levels overwrite where their observed death
// counts clear minDeaths and the ratio is finite.
func EstimateReporting(agg *spatial.Aggregator, p *epi.Params, cfr [][]float64, bl *Baselines, minDeaths float64) *tensor.Series {
	pop := agg.Pop
	nodes := pop.Nodes
	daysBack := bl.DaysBack

	// Parameter-implied CFR per node and its rollups.
	nodeWeighted := make([]float64, nodes) // sum_a cfr*Nij per node
	for a := 0; a < pop.Ages; a++ {
		for j := 0; j < nodes; j++ {
			nodeWeighted[j] += cfr[a][j] * pop.At(a, j)
		}
	}
	rootParam := floats.Sum(nodeWeighted) / pop.Total()
	grpParam := agg.H.GroupSum(nodeWeighted)
	floats.Div(grpParam, pop.GroupTotals())
	nodeParam := append([]float64(nil), nodeWeighted...)
	floats.Div(nodeParam, pop.NodeTotals())

	out := tensor.NewSeries(daysBack, nodes)
	for i := 0; i < daysBack; i++ {
		row := out.Row(i)
		tensor.Fill(row, rootParam/bl.RootCFR[i])
		for j := 0; j < nodes; j++ {
			g := agg.H.GroupOf(j)
			if bl.GroupDeaths.At(i, g) > minDeaths {
				if v := grpParam[g] / bl.GroupCFR.At(i, g); isFinitePositive(v) {
					row[j] = v
				}
			}
			if bl.NodeDeaths.At(i, j) > minDeaths {
				if v := nodeParam[j] / bl.NodeCFR.At(i, j); isFinitePositive(v) {
					row[j] = v
				}
			}
		}
	}
	return out
}

// sinceFirstDay rebases a cumulative series so counts accumulated before the
// rolling window opened don't contaminate the recent CFR.
func sinceFirstDay(s *tensor.Series) *tensor.Series {
	out := s.Clone()
	first := append([]float64(nil), s.Row(0)...)
	for d := 0; d < out.Days; d++ {
		floats.Sub(out.Row(d), first)
	}
	return out
}

func ratioSeries(num, den *tensor.Series) *tensor.Series {
	out := tensor.NewSeries(num.Days, num.Nodes)
	for d := 0; d < num.Days; d++ {
		for j := 0; j < num.Nodes; j++ {
			out.Set(d, j, num.At(d, j)/den.At(d, j))
		}
	}
	return out
}
