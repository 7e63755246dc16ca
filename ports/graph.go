// Package ports defines the boundary interfaces of the forecaster: input
// sources (graph, priors, NPI schedule, hospital census), the sampling and
// integration primitives, and the output sinks. Adapters implement these;
// app and the calibration pipeline consume them.
package ports

import (
	"context"
	"time"
)

// InputNode is one simulation node as read from the input graph.
type InputNode struct {
	ID        int       // finest-level admin id
	GroupID   int       // mid-level admin id
	AgePop    []float64 // age-stratified population
	CaseHist  []float64 // cumulative reported cases, one value per day
	DeathHist []float64 // cumulative reported deaths, one value per day
}

// InputEdge is one weighted mobility link.
type InputEdge struct {
	From   int
	To     int
	Weight float64
}

// InputGraph is the full static input: nodes, mobility edges, contact
// matrices keyed by setting name and the history start date.
type InputGraph struct {
	StartDate time.Time
	Nodes     []InputNode
	Edges     []InputEdge

	// Contact matrices keyed by setting name ("home", "work", ...), each
	// ages x ages. Unrecognized keys are dropped during calibration.
	Contact map[string][][]float64
}

// GraphSource loads the input graph from wherever it lives.
type GraphSource interface {
	Load(ctx context.Context) (*InputGraph, error)
}
