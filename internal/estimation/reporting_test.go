package estimation

import (
	"math"
	"testing"

	"github.com/lshin-apl/bucky/internal/testkit"
)

func TestEstimateReporting_RatioOfImpliedToObservedCFR(t *testing.T) {
	// The testkit history realizes a 2% CFR (with growth inflating the
	// observed ratio slightly); with a parameter-implied CFR of 1.5% the
	// inferred ascertainment must land near their quotient.
	const r, ages, nodes = 0.05, 3, 6
	g := testkit.NewGrowthGraph(t, nodes, 2, ages, 60, r)
	p := testkit.NodeParams(ages, nodes, 0, 0.4)

	bl := ComputeBaselines(g.Agg, p, p.FatalFracNode, 22)
	if bl.Lag != p.DeathReportTime[0] {
		t.Fatalf("uniform delays: lag = %g, want %g", bl.Lag, p.DeathReportTime[0])
	}

	got := EstimateReporting(g.Agg, p, p.FatalFracNode, bl, 10)
	if got.Days != 22 || got.Nodes != nodes {
		t.Fatalf("reporting shape %dx%d, want 22x%d", got.Days, got.Nodes, nodes)
	}
	// Observed CFR ~ 2% shifted by one growth day relative to the 15-day
	// reporting lag vs the 14-day simulation lag.
	want := p.FatalFrac[0] / (0.02 * math.Exp(r))
	for d := 0; d < got.Days; d++ {
		for j := 0; j < nodes; j++ {
			v := got.At(d, j)
			if math.IsNaN(v) || math.Abs(v-want)/want > 0.25 {
				t.Fatalf("reporting[%d,%d] = %g, want near %g", d, j, v, want)
			}
		}
	}
}

func TestEstimateReporting_MinDeathsGateForcesRootEstimate(t *testing.T) {
	const ages, nodes = 2, 4
	g := testkit.NewGrowthGraph(t, nodes, 2, ages, 60, 0.05)
	p := testkit.NodeParams(ages, nodes, 0, 0.4)

	bl := ComputeBaselines(g.Agg, p, p.FatalFracNode, 22)
	got := EstimateReporting(g.Agg, p, p.FatalFracNode, bl, math.Inf(1))

	// With an unreachable death threshold every node carries the root
	// value, so each row is constant.
	for d := 0; d < got.Days; d++ {
		for j := 1; j < nodes; j++ {
			if got.At(d, j) != got.At(d, 0) {
				t.Fatalf("day %d: node %d = %g, node 0 = %g, want identical root fallback",
					d, j, got.At(d, j), got.At(d, 0))
			}
		}
	}
}
