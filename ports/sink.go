package ports

import (
	"context"
	"time"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal/tensor"
)

// Frame is one accepted trial's postprocessed output: a bundle of day x node
// series sharing one shape, plus the row keys needed to persist them.
type Frame struct {
	RunID core.RunID
	Spawn int
	Seed  uint64
	Start time.Time // calendar date of day 0
	Nodes []int     // finest-level admin ids, column order of every series

	TotalPopulation []float64 // per node, constant across the horizon

	DailyReportedCases    *tensor.Series
	DailyCases            *tensor.Series
	DailyDeaths           *tensor.Series
	DailyHospitalizations *tensor.Series
	CumReportedCases      *tensor.Series
	CumCases              *tensor.Series
	CumDeaths             *tensor.Series
	CurrentHosp           *tensor.Series
	CurrentICU            *tensor.Series
	CurrentVent           *tensor.Series
	ActiveAsymptomatic    *tensor.Series
	CaseReportRate        *tensor.Series
	REff                  *tensor.Series
	DoublingTime          *tensor.Series
}

// NamedSeries pairs a persisted column name with its values.
type NamedSeries struct {
	Name   string
	Series *tensor.Series
}

// Columns returns every series column in persistence order.
func (f *Frame) Columns() []NamedSeries {
	return []NamedSeries{
		{"daily_reported_cases", f.DailyReportedCases},
		{"daily_cases", f.DailyCases},
		{"daily_deaths", f.DailyDeaths},
		{"daily_hospitalizations", f.DailyHospitalizations},
		{"cumulative_reported_cases", f.CumReportedCases},
		{"cumulative_cases", f.CumCases},
		{"cumulative_deaths", f.CumDeaths},
		{"current_hospitalizations", f.CurrentHosp},
		{"current_icu_usage", f.CurrentICU},
		{"current_vent_usage", f.CurrentVent},
		{"active_asymptomatic_cases", f.ActiveAsymptomatic},
		{"case_reporting_rate", f.CaseReportRate},
		{"r_eff", f.REff},
		{"doubling_t", f.DoublingTime},
	}
}

// Days returns the output horizon including day 0.
func (f *Frame) Days() int { return f.DailyDeaths.Days }

// Date returns the calendar date of output day d.
func (f *Frame) Date(d int) time.Time { return f.Start.AddDate(0, 0, d) }

// FrameSink persists accepted frames. Implementations decide partitioning;
// Close flushes anything buffered.
type FrameSink interface {
	Write(ctx context.Context, frame *Frame) error
	Close() error
}

// TrialRecord is one row of the trial audit ledger.
type TrialRecord struct {
	RunID    core.RunID
	Spawn    int
	Seed     uint64
	Accepted bool
	Reason   string // empty when accepted
	Duration time.Duration
}

// RunLedger records every attempted trial, accepted or not.
type RunLedger interface {
	Begin(ctx context.Context, runID core.RunID, baseSeed uint64, trials int) error
	Record(ctx context.Context, rec TrialRecord) error
	Close() error
}
