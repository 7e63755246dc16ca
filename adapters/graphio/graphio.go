// Package graphio loads the input graph from the JSON interchange format:
// one document carrying nodes with age-stratified population and history
// arrays, weighted mobility edges, and the contact matrices.
package graphio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

const dateLayout = "2006-01-02"

// Source reads one graph file lazily on Load.
type Source struct {
	path string
}

// NewSource creates a graph source for the given file path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

type graphDoc struct {
	StartDate string                 `json:"start_date"`
	Nodes     []nodeDoc              `json:"nodes"`
	Edges     []edgeDoc              `json:"edges"`
	Contact   map[string][][]float64 `json:"contact_matrices"`
}

type nodeDoc struct {
	ID        int       `json:"id"`
	GroupID   int       `json:"group_id"`
	AgePop    []float64 `json:"age_population"`
	CaseHist  []float64 `json:"cumulative_cases"`
	DeathHist []float64 `json:"cumulative_deaths"`
}

type edgeDoc struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// Load parses the graph file. Structural problems map to the malformed
// input sentinel so the caller can distinguish bad data from IO failures.
func (s *Source) Load(ctx context.Context) (*ports.InputGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", s.path, err)
	}
	var doc graphDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse graph %s: %v", core.ErrMalformedInput, s.path, err)
	}

	start, err := time.Parse(dateLayout, doc.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date %q", core.ErrMissingMetadata, doc.StartDate)
	}
	if len(doc.Nodes) == 0 {
		return nil, core.ErrEmptyGraph
	}

	g := &ports.InputGraph{
		StartDate: start,
		Nodes:     make([]ports.InputNode, len(doc.Nodes)),
		Edges:     make([]ports.InputEdge, len(doc.Edges)),
		Contact:   doc.Contact,
	}
	for i, n := range doc.Nodes {
		if len(n.AgePop) == 0 {
			return nil, fmt.Errorf("%w: node %d has no age_population", core.ErrMissingAttr, n.ID)
		}
		if len(n.CaseHist) == 0 || len(n.DeathHist) == 0 {
			return nil, fmt.Errorf("%w: node %d has no history", core.ErrMissingAttr, n.ID)
		}
		g.Nodes[i] = ports.InputNode{
			ID:        n.ID,
			GroupID:   n.GroupID,
			AgePop:    n.AgePop,
			CaseHist:  n.CaseHist,
			DeathHist: n.DeathHist,
		}
	}
	for i, e := range doc.Edges {
		g.Edges[i] = ports.InputEdge{From: e.From, To: e.To, Weight: e.Weight}
	}
	return g, nil
}
