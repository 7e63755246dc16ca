// Package testkit builds the small synthetic graphs and parameter fixtures
// shared by the numeric test suites: exponential-growth histories with a
// known rate, uniform populations and mobility, and a plausible mid-pandemic
// parameter set.
package testkit

import (
	"math"
	"testing"

	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
)

// Graph bundles one synthetic spatial data layer.
type Graph struct {
	H    *spatial.Hierarchy
	Pop  *spatial.Population
	Hist *spatial.History
	Agg  *spatial.Aggregator
	Mob  *spatial.Mobility
}

// NewGrowthGraph builds a graph whose cumulative case history grows as
// exp(r*day) per node, with deaths a delayed 2% shadow of cases. Node j
// belongs to group j % groups; population is uniform across ages and nodes.
func NewGrowthGraph(tb testing.TB, nodes, groups, ages, days int, r float64) *Graph {
	tb.Helper()

	nodeIDs := make([]int, nodes)
	groupIDs := make([]int, nodes)
	for j := range nodeIDs {
		nodeIDs[j] = 1000 + j
		groupIDs[j] = j % groups
	}
	h, err := spatial.NewHierarchy(nodeIDs, groupIDs)
	if err != nil {
		tb.Fatalf("testkit hierarchy: %v", err)
	}

	perNode := make([][]float64, nodes)
	for j := range perNode {
		row := make([]float64, ages)
		for a := range row {
			row[a] = 50000
		}
		perNode[j] = row
	}
	pop, err := spatial.NewPopulation(perNode, h)
	if err != nil {
		tb.Fatalf("testkit population: %v", err)
	}

	const deathLag, cfr = 14, 0.02
	cumCases := make([][]float64, days)
	cumDeaths := make([][]float64, days)
	for d := 0; d < days; d++ {
		cRow := make([]float64, nodes)
		dRow := make([]float64, nodes)
		for j := 0; j < nodes; j++ {
			cRow[j] = 100 * math.Exp(r*float64(d))
			if d >= deathLag {
				dRow[j] = cfr * 100 * math.Exp(r*float64(d-deathLag))
			}
		}
		cumCases[d] = cRow
		cumDeaths[d] = dRow
	}
	hist, err := spatial.NewHistory(cumCases, cumDeaths)
	if err != nil {
		tb.Fatalf("testkit history: %v", err)
	}

	agg, err := spatial.NewAggregator(h, pop, hist, spatial.DefaultWindow)
	if err != nil {
		tb.Fatalf("testkit aggregator: %v", err)
	}

	// Strong self-mixing with a thin uniform coupling to everyone else.
	var edges []spatial.Edge
	for i := 0; i < nodes; i++ {
		edges = append(edges, spatial.Edge{From: i, To: i, Weight: 0.9})
		for j := 0; j < nodes; j++ {
			if i != j {
				edges = append(edges, spatial.Edge{From: i, To: j, Weight: 0.1 / float64(nodes-1)})
			}
		}
	}
	mob, err := spatial.NewMobility(nodes, edges)
	if err != nil {
		tb.Fatalf("testkit mobility: %v", err)
	}

	return &Graph{H: h, Pop: pop, Hist: hist, Agg: agg, Mob: mob}
}

// Params returns a plausible mid-pandemic parameter set with the given age
// stratification, fully populated so calibration can run without a prior
// file.
func Params(ages int) *epi.Params {
	p := &epi.Params{
		Tg: 7, Te: 4, Ti: 5, Th: 6, Tlos: 8,
		KernelShape: 2, RelInfect: 0.7, BetaScale: 1, RtEstimate: 1.5,
		CaseReportRate: 0.4, ICUFrac: 0.3, VentFrac: 0.5, ContactDamp: 0.6,
		MobilitySD: 0.05, RRVar: 0.2, FScaling: 0.85,
		RejectBandDeaths: 2, RejectBandCases: 1.5,
		SymFrac:         fill(ages, 0.6),
		HospFrac:        fill(ages, 0.08),
		FatalFrac:       fill(ages, 0.015),
		DeathReportTime: fill(ages, 15),
	}
	return p
}

// NodeParams extends Params with the per-node fields calibration would
// normally derive, all flat across nodes.
func NodeParams(ages, nodes int, beta, reporting float64) *epi.Params {
	p := Params(ages)
	p.Beta = fill(nodes, beta)
	p.Reporting = fill(nodes, reporting)
	p.RtNode = fill(nodes, p.RtEstimate)
	p.HospFracNode = broadcast(p.HospFrac, nodes)
	p.FatalFracNode = broadcast(p.FatalFrac, nodes)
	p.FatalEffNode = make([][]float64, ages)
	for a := 0; a < ages; a++ {
		p.FatalEffNode[a] = fill(nodes, math.Min(1, p.FatalFrac[a]/p.HospFrac[a]))
	}
	return p
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func broadcast(perAge []float64, nodes int) [][]float64 {
	out := make([][]float64, len(perAge))
	for a, v := range perAge {
		out[a] = fill(nodes, v)
	}
	return out
}
