package core

import (
	"time"
)

// Day indexes a calendar day relative to the first day of loaded history.
// Simulation time t=0 corresponds to the last day of history.
type Day int

// Calendar converts day indices to calendar dates.
type Calendar struct {
	Start time.Time // date of history day 0, midnight UTC
}

// NewCalendar creates a calendar anchored at start (truncated to a date).
func NewCalendar(start time.Time) Calendar {
	y, m, d := start.Date()
	return Calendar{Start: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Date returns the calendar date of day d.
func (c Calendar) Date(d Day) time.Time {
	return c.Start.AddDate(0, 0, int(d))
}

// DayOf returns the day index of t relative to the calendar start.
func (c Calendar) DayOf(t time.Time) Day {
	return Day(int(t.Sub(c.Start).Hours() / 24))
}

// Format renders day d as an ISO date string, the partition key for output.
func (c Calendar) Format(d Day) string {
	return c.Date(d).Format("2006-01-02")
}
