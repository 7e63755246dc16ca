package spatial

import (
	"fmt"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// Aggregator bundles the hierarchy, population and history and serves every
// derived rollup the estimators and the calibration pipeline consume.
//
// All derived series are computed once, eagerly, at construction: the
// smoothed incidence is the first difference of the rolled cumulative
// series (smoothing precedes differencing to keep single-day reporting
// noise from being amplified), and group/root rollups reuse the same
// scatter-add reduction everywhere. The struct is immutable afterwards and
// safe for concurrent trials.
type Aggregator struct {
	H    *Hierarchy
	Pop  *Population
	Hist *History

	window int

	rollCumCases  *tensor.Series
	rollCumDeaths *tensor.Series
	rollIncCases  *tensor.Series
	rollIncDeaths *tensor.Series

	rollCumCasesGrp  *tensor.Series
	rollCumDeathsGrp *tensor.Series
	rollIncCasesGrp  *tensor.Series
	rollIncDeathsGrp *tensor.Series

	rollCumCasesRoot  []float64
	rollCumDeathsRoot []float64
	rollIncCasesRoot  []float64
	rollIncDeathsRoot []float64
}

// DefaultWindow is the rolling-mean width applied to cumulative history.
const DefaultWindow = 7

// NewAggregator wires the data layer together. A rolling window longer than
// the available history is rejected here, fatally: shorter history means the
// inputs cannot support calibration at all.
func NewAggregator(h *Hierarchy, pop *Population, hist *History, window int) (*Aggregator, error) {
	if pop.Nodes != h.Nodes() || hist.Nodes != h.Nodes() {
		return nil, fmt.Errorf("%w: population %d, history %d, hierarchy %d nodes",
			core.ErrShapeMismatch, pop.Nodes, hist.Nodes, h.Nodes())
	}
	if window < 1 {
		window = DefaultWindow
	}

	a := &Aggregator{H: h, Pop: pop, Hist: hist, window: window}

	var err error
	if a.rollCumCases, err = tensor.RollingMean(hist.CumCases, window); err != nil {
		return nil, fmt.Errorf("case history of %d days with window %d: %w", hist.Days, window, err)
	}
	if a.rollCumDeaths, err = tensor.RollingMean(hist.CumDeaths, window); err != nil {
		return nil, fmt.Errorf("death history of %d days with window %d: %w", hist.Days, window, err)
	}
	a.rollIncCases = tensor.Diff(a.rollCumCases).Clip(0, maxCount)
	a.rollIncDeaths = tensor.Diff(a.rollCumDeaths).Clip(0, maxCount)

	a.rollCumCasesGrp = h.GroupSumSeries(a.rollCumCases)
	a.rollCumDeathsGrp = h.GroupSumSeries(a.rollCumDeaths)
	a.rollIncCasesGrp = h.GroupSumSeries(a.rollIncCases)
	a.rollIncDeathsGrp = h.GroupSumSeries(a.rollIncDeaths)

	a.rollCumCasesRoot = tensor.SumRows(a.rollCumCases)
	a.rollCumDeathsRoot = tensor.SumRows(a.rollCumDeaths)
	a.rollIncCasesRoot = tensor.SumRows(a.rollIncCases)
	a.rollIncDeathsRoot = tensor.SumRows(a.rollIncDeaths)

	return a, nil
}

// Window returns the rolling-mean width in days.
func (a *Aggregator) Window() int { return a.window }

// GroupSum scatter-adds node values into group index space.
func (a *Aggregator) GroupSum(vals []float64) []float64 { return a.H.GroupSum(vals) }

// Rolling cumulative series, node level.
func (a *Aggregator) RollingCumCases() *tensor.Series  { return a.rollCumCases }
func (a *Aggregator) RollingCumDeaths() *tensor.Series { return a.rollCumDeaths }

// Smoothed incidence (difference of the rolled cumulative), node level.
func (a *Aggregator) RollingIncCases() *tensor.Series  { return a.rollIncCases }
func (a *Aggregator) RollingIncDeaths() *tensor.Series { return a.rollIncDeaths }

// Mid-level rollups.
func (a *Aggregator) RollingCumCasesGroup() *tensor.Series  { return a.rollCumCasesGrp }
func (a *Aggregator) RollingCumDeathsGroup() *tensor.Series { return a.rollCumDeathsGrp }
func (a *Aggregator) RollingIncCasesGroup() *tensor.Series  { return a.rollIncCasesGrp }
func (a *Aggregator) RollingIncDeathsGroup() *tensor.Series { return a.rollIncDeathsGrp }

// Root-level day series.
func (a *Aggregator) RollingCumCasesRoot() []float64  { return a.rollCumCasesRoot }
func (a *Aggregator) RollingCumDeathsRoot() []float64 { return a.rollCumDeathsRoot }
func (a *Aggregator) RollingIncCasesRoot() []float64  { return a.rollIncCasesRoot }
func (a *Aggregator) RollingIncDeathsRoot() []float64 { return a.rollIncDeathsRoot }
