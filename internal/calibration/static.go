// Package calibration turns the static inputs and each trial's random draw
// into a ready-to-integrate model: contact-matrix preparation and census
// anchors once per process, then per-trial parameter resampling, CFR/CHR
// rescaling, ascertainment and transmission-rate calibration, and
// initial-condition assembly.
package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/domain/spatial"
	"github.com/lshin-apl/bucky/internal/estimation"
	"github.com/lshin-apl/bucky/internal/seir"
	"github.com/lshin-apl/bucky/internal/tensor"
	"github.com/lshin-apl/bucky/ports"
)

// Calibration window constants. Delays approximate onset-to-outcome lags of
// the anchored ratios; windows are the trailing days the anchors average.
const (
	anchorWindow       = 7
	cfrDelay           = 15
	chrDelay           = 6
	rtDaysBack         = 7
	reportingWindow    = 22
	reportingMinDeaths = 100.0
	reportingMeanDays  = 7
)

// Contact settings recognized on the input graph; anything else, including
// the aggregate "all" matrices, is dropped.
var contactSettings = map[string]bool{
	"home":            true,
	"work":            true,
	"school":          true,
	"other_locations": true,
}

// Static holds everything computed once per process and shared read-only by
// all trials.
type Static struct {
	Home  *mat.Dense // symmetrized household contact matrix
	Other *mat.Dense // symmetrized sum of the non-household settings

	// Census-derived anchors per mid-level group; nil without census data.
	HospAnchor []float64 // current hospital occupancy at simulation start
	GroupCHR   []float64 // harmonic-mean observed case-hospitalization ratio

	// History-derived anchor per mid-level group.
	GroupCFR []float64

	Baselines *estimation.Baselines
}

// LoadStatic runs the one-time calibration phase: contact matrices are
// symmetrized and filtered, census data (when present) is reduced to
// mid-level occupancy and CHR anchors aligned to the simulation start, the
// observed CFR anchor is derived from history, and the ascertainment
// baselines are fixed from the prior-mean parameter set so every later
// trial compares against the same canonical denominators.
func LoadStatic(agg *spatial.Aggregator, meanParams *epi.Params, contact map[string][][]float64, census []ports.CensusRecord, start time.Time) (*Static, error) {
	ages := agg.Pop.Ages
	s := &Static{}

	var err error
	if s.Home, s.Other, err = prepareContacts(contact, ages); err != nil {
		return nil, err
	}

	cfr := make([][]float64, ages)
	for a := 0; a < ages; a++ {
		row := make([]float64, agg.Pop.Nodes)
		tensor.Fill(row, meanParams.FatalFrac[a])
		cfr[a] = row
	}
	lag := estimation.MeanDeathReportingLag(agg.Pop, cfr, meanParams.DeathReportTime)
	if err := checkHistoryDepth(agg, lag); err != nil {
		return nil, err
	}

	s.GroupCFR = historicalCFRAnchor(agg)

	if len(census) > 0 {
		s.HospAnchor, s.GroupCHR = censusAnchors(agg, census, start)
	}

	s.Baselines = estimation.ComputeBaselines(agg, meanParams, cfr, reportingWindow)

	return s, nil
}

// checkHistoryDepth verifies the rolled history covers every trailing
// window the estimators read, so a short input fails the run up front
// instead of indexing past the start of a series mid-trial. lag is the
// onset-to-reported-death delay the ascertainment baselines step back by.
func checkHistoryDepth(agg *spatial.Aggregator, lag float64) error {
	rolled := agg.RollingCumCases().Days
	need := cfrDelay + anchorWindow + 1 // CFR anchor rebase day
	if n := reportingWindow + int(math.Ceil(lag)); n > need {
		need = n
	}
	if n := rtDaysBack + 1; n > need { // renewal ratios read the differenced series
		need = n
	}
	if rolled < need {
		return fmt.Errorf("%w: %d days of history roll to %d, calibration windows need %d (history of at least %d days)",
			core.ErrShortHistory, agg.Hist.Days, rolled, need, need+agg.Window()-1)
	}
	return nil
}

// prepareContacts symmetrizes every recognized setting matrix and splits
// them into the household matrix and the summed non-household remainder.
func prepareContacts(contact map[string][][]float64, ages int) (home, other *mat.Dense, err error) {
	home = mat.NewDense(ages, ages, nil)
	other = mat.NewDense(ages, ages, nil)
	seen := 0
	for name, rows := range contact {
		if !contactSettings[name] {
			continue
		}
		if len(rows) != ages {
			return nil, nil, fmt.Errorf("%w: contact matrix %q is %dx?, want %dx%d",
				core.ErrShapeMismatch, name, len(rows), ages, ages)
		}
		m := mat.NewDense(ages, ages, nil)
		for i, row := range rows {
			if len(row) != ages {
				return nil, nil, fmt.Errorf("%w: contact matrix %q row %d has %d columns, want %d",
					core.ErrShapeMismatch, name, i, len(row), ages)
			}
			for j, v := range row {
				m.Set(i, j, v)
			}
		}
		sym := mat.NewDense(ages, ages, nil)
		sym.Add(m, m.T())
		sym.Scale(0.5, sym)
		if name == "home" {
			home.Add(home, sym)
		} else {
			other.Add(other, sym)
		}
		seen++
	}
	if seen == 0 {
		return nil, nil, fmt.Errorf("%w: no recognized contact matrices", core.ErrMissingMetadata)
	}
	return home, other, nil
}

// BuildContacts assembles the per-day age-mixing schedule for one trial:
// household contacts plus the other settings damped by the drawn
// ContactDamp and, day by day, the NPI contact multiplier; each day's
// matrix is row-normalized. Without an active schedule one static matrix
// covers the horizon.
func (s *Static) BuildContacts(p *epi.Params, npi *ports.NPISchedule, horizon int) *seir.ContactSchedule {
	ages, _ := s.Home.Dims()
	combine := func(contactMult float64) *mat.Dense {
		c := mat.NewDense(ages, ages, nil)
		c.Scale(contactMult*p.ContactDamp, s.Other)
		c.Add(c, s.Home)
		for a := 0; a < ages; a++ {
			var sum float64
			for b := 0; b < ages; b++ {
				sum += c.At(a, b)
			}
			if sum > 0 {
				for b := 0; b < ages; b++ {
					c.Set(a, b, c.At(a, b)/sum)
				}
			}
		}
		return c
	}

	if !npi.Active() {
		return seir.NewContactSchedule([]*mat.Dense{combine(1)})
	}
	mats := make([]*mat.Dense, horizon+1)
	for d := range mats {
		_, _, contactMult := npi.At(float64(d))
		mats[d] = combine(contactMult)
	}
	return seir.NewContactSchedule(mats)
}

// historicalCFRAnchor estimates the recently observed case fatality ratio
// per mid-level group: deaths accumulated over the trailing window against
// cases accumulated over the same-length window lagged by the
// onset-to-death delay, combined across days by harmonic mean.
func historicalCFRAnchor(agg *spatial.Aggregator) []float64 {
	cases := windowedGroupGrowth(agg, agg.RollingCumCases(), cfrDelay)
	deaths := windowedGroupGrowth(agg, agg.RollingCumDeaths(), 0)

	groups := agg.H.Groups()
	out := make([]float64, groups)
	ratios := make([]float64, anchorWindow)
	for g := 0; g < groups; g++ {
		for i := 0; i < anchorWindow; i++ {
			ratios[i] = deaths.At(i, g) / cases.At(i, g)
		}
		out[g] = harmonicOrNaN(ratios)
	}
	return out
}

// windowedGroupGrowth extracts anchorWindow trailing days of the cumulative
// series lagged by delay, rebased to the day before the window opened, and
// rolled up to group level.
func windowedGroupGrowth(agg *spatial.Aggregator, cum *tensor.Series, delay int) *tensor.Series {
	nodes := cum.Nodes
	out := tensor.NewSeries(anchorWindow, nodes)
	base := cum.FromEnd(delay + anchorWindow)
	for i := 0; i < anchorWindow; i++ {
		row := out.Row(i)
		copy(row, cum.FromEnd(delay+anchorWindow-1-i))
		for j := range row {
			row[j] -= base[j]
		}
	}
	return agg.H.GroupSumSeries(out)
}

// censusAnchors reduces raw census records to the two mid-level anchors:
// mean occupancy over the trailing window ending at the simulation start,
// and the harmonic-mean CHR of cumulative admissions against lagged cases.
func censusAnchors(agg *spatial.Aggregator, census []ports.CensusRecord, start time.Time) (hosp, chr []float64) {
	groups := agg.H.Groups()
	day0 := start.Truncate(24 * time.Hour)

	// occupancy[g][i], admissions[g][i] for window day i (0 = oldest).
	occ := make([][]float64, groups)
	adm := make([][]float64, groups)
	for g := range occ {
		occ[g] = make([]float64, anchorWindow)
		adm[g] = make([]float64, anchorWindow)
	}
	for _, rec := range census {
		if rec.GroupID < 0 || rec.GroupID >= groups {
			continue
		}
		offset := int(day0.Sub(rec.Date.Truncate(24*time.Hour)).Hours() / 24)
		if offset < 0 || offset >= anchorWindow {
			continue
		}
		i := anchorWindow - 1 - offset
		occ[rec.GroupID][i] += rec.Occupancy
		adm[rec.GroupID][i] += rec.Admissions
	}

	hosp = make([]float64, groups)
	for g := range hosp {
		var sum float64
		var n int
		for _, v := range occ[g] {
			if v > 0 {
				sum += v
				n++
			}
		}
		if n > 0 {
			hosp[g] = sum / float64(n)
		}
	}

	cases := windowedGroupGrowth(agg, agg.RollingCumCases(), chrDelay)
	chr = make([]float64, groups)
	ratios := make([]float64, anchorWindow)
	for g := 0; g < groups; g++ {
		var cum float64
		for i := 0; i < anchorWindow; i++ {
			cum += adm[g][i]
			ratios[i] = cum / cases.At(i, g)
		}
		chr[g] = harmonicOrNaN(ratios)
	}
	return hosp, chr
}

// harmonicOrNaN is the harmonic mean of vals, NaN when any entry is
// non-positive or non-finite (zero-count groups fall back up the
// hierarchy).
func harmonicOrNaN(vals []float64) float64 {
	for _, v := range vals {
		if !(v > 0) || math.IsInf(v, 0) {
			return math.NaN()
		}
	}
	m, err := stats.HarmonicMean(vals)
	if err != nil {
		return math.NaN()
	}
	return m
}
