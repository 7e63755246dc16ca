package spatial

import (
	"fmt"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// History holds the per-node cumulative and incident case/death series.
// Cumulative values are clipped to be non-negative at ingestion; incidence
// is the clipped first difference of the cumulative series and therefore
// has one day less.
type History struct {
	Days  int
	Nodes int

	CumCases  *tensor.Series
	CumDeaths *tensor.Series
	IncCases  *tensor.Series
	IncDeaths *tensor.Series
}

// NewHistory ingests day-major cumulative rows. Every node must report the
// same number of days for both series; anything else indicates a corrupt
// input graph and is fatal.
func NewHistory(cumCases, cumDeaths [][]float64) (*History, error) {
	cases, err := tensor.SeriesFromRows(cumCases)
	if err != nil {
		return nil, fmt.Errorf("case history: %w", err)
	}
	deaths, err := tensor.SeriesFromRows(cumDeaths)
	if err != nil {
		return nil, fmt.Errorf("death history: %w", err)
	}
	if cases.Days != deaths.Days || cases.Nodes != deaths.Nodes {
		return nil, fmt.Errorf("%w: cases %dx%d vs deaths %dx%d",
			core.ErrShapeMismatch, cases.Days, cases.Nodes, deaths.Days, deaths.Nodes)
	}
	if cases.Days < 2 {
		return nil, fmt.Errorf("%w: need at least 2 days of history", core.ErrMalformedInput)
	}
	cases.Clip(0, maxCount)
	deaths.Clip(0, maxCount)
	h := &History{
		Days:      cases.Days,
		Nodes:     cases.Nodes,
		CumCases:  cases,
		CumDeaths: deaths,
		IncCases:  tensor.Diff(cases).Clip(0, maxCount),
		IncDeaths: tensor.Diff(deaths).Clip(0, maxCount),
	}
	return h, nil
}

// maxCount is an open upper clip bound; only the non-negativity side matters.
const maxCount = 1e18
