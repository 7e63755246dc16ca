// Package census reads hospital-census workbooks: one sheet with a header
// row and one observation per row (group id, date, occupancy, admissions).
// The hospital reporting pipelines this feeds from only publish xlsx.
package census

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

// Column headers recognized in the workbook, matched case-insensitively.
const (
	colGroup      = "group_id"
	colDate       = "date"
	colOccupancy  = "occupancy"
	colAdmissions = "admissions"
)

// Source reads one workbook; empty path means no census data, which
// disables the hospitalization anchors downstream.
type Source struct {
	path  string
	sheet string // empty selects the first sheet
}

// NewSource creates a census source for the given workbook path.
func NewSource(path, sheet string) *Source {
	return &Source{path: path, sheet: sheet}
}

// Load parses every data row. Rows with blank occupancy and admissions are
// skipped; anything unparseable is a malformed-input error naming the cell.
func (s *Source) Load(ctx context.Context) ([]ports.CensusRecord, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open census workbook %s: %w", s.path, err)
	}
	defer f.Close()

	sheet := s.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: census sheet %q: %v", core.ErrMalformedInput, sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range []string{colGroup, colDate, colOccupancy, colAdmissions} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("%w: census workbook missing column %q", core.ErrMissingAttr, want)
		}
	}

	var recs []ports.CensusRecord
	for i, row := range rows[1:] {
		occRaw := cell(row, cols[colOccupancy])
		admRaw := cell(row, cols[colAdmissions])
		if occRaw == "" && admRaw == "" {
			continue
		}
		group, err := strconv.Atoi(cell(row, cols[colGroup]))
		if err != nil {
			return nil, fmt.Errorf("%w: census row %d: group_id: %v", core.ErrMalformedInput, i+2, err)
		}
		date, err := parseDate(cell(row, cols[colDate]))
		if err != nil {
			return nil, fmt.Errorf("%w: census row %d: date: %v", core.ErrMalformedInput, i+2, err)
		}
		occ, err := parseCount(occRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: census row %d: occupancy: %v", core.ErrMalformedInput, i+2, err)
		}
		adm, err := parseCount(admRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: census row %d: admissions: %v", core.ErrMalformedInput, i+2, err)
		}
		recs = append(recs, ports.CensusRecord{
			GroupID:    group,
			Date:       date,
			Occupancy:  occ,
			Admissions: adm,
		})
	}
	return recs, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseDate accepts ISO dates and the serial date strings excelize yields
// for date-formatted cells.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "01-02-06", "1/2/2006", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		return excelize.ExcelDateToTime(serial, false)
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func parseCount(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %g", v)
	}
	return v, nil
}
