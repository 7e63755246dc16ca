package ports

import (
	"context"
	"time"
)

// NPISchedule carries three parallel day-indexed multiplier series covering
// the full simulation horizon. A nil schedule is the inactive sentinel: all
// multipliers are 1.
type NPISchedule struct {
	Transmission []float64 // damping on the transmission rate
	Mobility     []float64 // damping on inter-node mixing
	Contact      []float64 // damping on non-household contact weights
}

// Active reports whether any intervention series is present.
func (s *NPISchedule) Active() bool {
	return s != nil && len(s.Transmission) > 0
}

// At returns the three multipliers for simulation time t. The day index is
// the integer-truncated time, clamped to the last entry so adaptive-solver
// overshoot past the horizon stays in bounds.
func (s *NPISchedule) At(t float64) (transmission, mobility, contact float64) {
	if !s.Active() {
		return 1, 1, 1
	}
	d := int(t)
	if d < 0 {
		d = 0
	}
	if d >= len(s.Transmission) {
		d = len(s.Transmission) - 1
	}
	return s.Transmission[d], s.Mobility[d], s.Contact[d]
}

// NPISource builds the schedule for a given start date and horizon, or
// returns nil when no interventions apply.
type NPISource interface {
	Schedule(ctx context.Context, start time.Time, horizonDays int) (*NPISchedule, error)
}
