// Package app orchestrates the forecaster: input assembly, the trial loop
// with rejection sampling, and delivery of accepted output frames to the
// configured sinks.
package app

import (
	"fmt"
	"time"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/ports"
)

// Model is the validated, indexed form of one input graph: the spatial
// structures every trial shares read-only. Start is simulation day 0, the
// calendar date of the last history row.
type Model struct {
	Start   time.Time
	H       *spatial.Hierarchy
	Pop     *spatial.Population
	Hist    *spatial.History
	Agg     *spatial.Aggregator
	Mob     *spatial.Mobility
	Contact map[string][][]float64
}

// BuildModel validates the raw input graph and assembles the spatial layer.
// Node order follows the input; edge endpoints are resolved from admin ids
// to node indices, and an edge referencing an unknown node is a fatal input
// error.
func BuildModel(g *ports.InputGraph) (*Model, error) {
	if len(g.Nodes) == 0 {
		return nil, core.ErrEmptyGraph
	}

	nodeIDs := make([]int, len(g.Nodes))
	groupIDs := make([]int, len(g.Nodes))
	perNode := make([][]float64, len(g.Nodes))
	cumCases := make([][]float64, 0)
	cumDeaths := make([][]float64, 0)
	idx := make(map[int]int, len(g.Nodes))

	days := len(g.Nodes[0].CaseHist)
	for j, n := range g.Nodes {
		nodeIDs[j] = n.ID
		groupIDs[j] = n.GroupID
		perNode[j] = n.AgePop
		if len(n.CaseHist) != days || len(n.DeathHist) != days {
			return nil, fmt.Errorf("%w: node %d history has %d/%d days, want %d",
				core.ErrShapeMismatch, n.ID, len(n.CaseHist), len(n.DeathHist), days)
		}
		if _, dup := idx[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d", core.ErrMalformedInput, n.ID)
		}
		idx[n.ID] = j
	}

	// Histories arrive node-major; the spatial layer wants day-major rows.
	for d := 0; d < days; d++ {
		cRow := make([]float64, len(g.Nodes))
		dRow := make([]float64, len(g.Nodes))
		for j, n := range g.Nodes {
			cRow[j] = n.CaseHist[d]
			dRow[j] = n.DeathHist[d]
		}
		cumCases = append(cumCases, cRow)
		cumDeaths = append(cumDeaths, dRow)
	}

	h, err := spatial.NewHierarchy(nodeIDs, groupIDs)
	if err != nil {
		return nil, err
	}
	pop, err := spatial.NewPopulation(perNode, h)
	if err != nil {
		return nil, err
	}
	hist, err := spatial.NewHistory(cumCases, cumDeaths)
	if err != nil {
		return nil, err
	}
	agg, err := spatial.NewAggregator(h, pop, hist, spatial.DefaultWindow)
	if err != nil {
		return nil, err
	}

	edges := make([]spatial.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		from, ok := idx[e.From]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %d", core.ErrMalformedInput, e.From)
		}
		to, ok := idx[e.To]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %d", core.ErrMalformedInput, e.To)
		}
		edges = append(edges, spatial.Edge{From: from, To: to, Weight: e.Weight})
	}
	mob, err := spatial.NewMobility(len(g.Nodes), edges)
	if err != nil {
		return nil, err
	}

	cal := core.NewCalendar(g.StartDate)
	return &Model{
		Start:   cal.Date(core.Day(days - 1)),
		H:       h,
		Pop:     pop,
		Hist:    hist,
		Agg:     agg,
		Mob:     mob,
		Contact: g.Contact,
	}, nil
}
