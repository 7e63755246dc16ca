// Package npi reads intervention schedules from CSV: one row per calendar
// date with the three multipliers applied to transmission, mobility and
// non-household contacts. Days before the first row default to 1 and the
// last row holds through the rest of the horizon.
package npi

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

const dateLayout = "2006-01-02"

// Source loads one schedule file. A nil Source (or an absent file path) is
// the no-intervention case and yields a nil schedule.
type Source struct {
	path string
}

// NewSource creates a CSV schedule source; empty path means no
// interventions.
func NewSource(path string) *Source {
	return &Source{path: path}
}

type row struct {
	date                            time.Time
	transmission, mobility, contact float64
}

// Schedule materializes the day-indexed multiplier series for a simulation
// starting at start and running horizonDays.
func (s *Source) Schedule(ctx context.Context, start time.Time, horizonDays int) (*ports.NPISchedule, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open npi schedule %s: %w", s.path, err)
	}
	defer f.Close()

	rows, err := parse(csv.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w: npi schedule %s: %v", core.ErrMalformedInput, s.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	days := horizonDays + 1
	sched := &ports.NPISchedule{
		Transmission: make([]float64, days),
		Mobility:     make([]float64, days),
		Contact:      make([]float64, days),
	}
	day0 := start.Truncate(24 * time.Hour)
	// rows are date-sorted by parse; walk them alongside the horizon,
	// holding the latest seen values.
	trans, mob, contact := 1.0, 1.0, 1.0
	next := 0
	for next < len(rows) && rows[next].date.Before(day0) {
		trans, mob, contact = rows[next].transmission, rows[next].mobility, rows[next].contact
		next++
	}
	for d := 0; d < days; d++ {
		date := day0.AddDate(0, 0, d)
		for next < len(rows) && !rows[next].date.After(date) {
			trans, mob, contact = rows[next].transmission, rows[next].mobility, rows[next].contact
			next++
		}
		sched.Transmission[d] = trans
		sched.Mobility[d] = mob
		sched.Contact[d] = contact
	}
	return sched, nil
}

func parse(r *csv.Reader) ([]row, error) {
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}
	cols := map[string]int{}
	for i, name := range records[0] {
		cols[name] = i
	}
	for _, want := range []string{"date", "transmission", "mobility", "contact"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing column %q", want)
		}
	}

	rows := make([]row, 0, len(records)-1)
	for i, rec := range records[1:] {
		date, err := time.Parse(dateLayout, rec[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", i+1, err)
		}
		var vals [3]float64
		for k, name := range []string{"transmission", "mobility", "contact"} {
			v, err := strconv.ParseFloat(rec[cols[name]], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %v", i+1, name, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("row %d: %s = %g, want >= 0", i+1, name, v)
			}
			vals[k] = v
		}
		rows = append(rows, row{
			date:         date.Truncate(24 * time.Hour),
			transmission: vals[0],
			mobility:     vals[1],
			contact:      vals[2],
		})
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].date.Before(rows[i-1].date) {
			return nil, fmt.Errorf("rows out of date order at %d", i)
		}
	}
	return rows, nil
}
