package ports

import (
	"context"
	"time"
)

// CensusRecord is one observed hospital-occupancy data point for a
// mid-level admin group.
type CensusRecord struct {
	GroupID    int
	Date       time.Time
	Occupancy  float64 // patients currently hospitalized
	Admissions float64 // new admissions that day
}

// CensusSource loads hospital-census observations used to anchor the
// hospitalization calibration. Implementations return records in any order;
// alignment against the history window happens in calibration.
type CensusSource interface {
	Load(ctx context.Context) ([]CensusRecord, error)
}
