// Package output persists accepted frames. The CSV sink partitions rows by
// forecast date so downstream aggregation can stream one date at a time;
// the queue decouples trial workers from sink latency.
package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lshin-apl/bucky/ports"
)

const dateLayout = "2006-01-02"

// CSVSink writes one file per forecast date under dir, appending one row
// per (trial, node, date). Not safe for concurrent Write; wrap it in a
// Queue when multiple workers produce frames.
type CSVSink struct {
	dir     string
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

// NewCSVSink creates the output directory if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &CSVSink{
		dir:     dir,
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
	}, nil
}

func header() []string {
	h := []string{"run_id", "spawn", "seed", "date", "adm2", "total_population"}
	for _, col := range (&ports.Frame{}).Columns() {
		h = append(h, col.Name)
	}
	return h
}

// Write appends every day of the frame to its date partition.
func (s *CSVSink) Write(ctx context.Context, f *ports.Frame) error {
	cols := f.Columns()
	row := make([]string, 0, 6+len(cols))
	for d := 0; d < f.Days(); d++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		date := f.Date(d).Format(dateLayout)
		w, err := s.writerFor(date)
		if err != nil {
			return err
		}
		for j, id := range f.Nodes {
			row = row[:0]
			row = append(row,
				string(f.RunID),
				strconv.Itoa(f.Spawn),
				strconv.FormatUint(f.Seed, 10),
				date,
				strconv.Itoa(id),
				formatVal(f.TotalPopulation[j]),
			)
			for _, col := range cols {
				row = append(row, formatVal(col.Series.At(d, j)))
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write partition %s: %w", date, err)
			}
		}
	}
	return nil
}

// Close flushes and closes every partition.
func (s *CSVSink) Close() error {
	var firstErr error
	for date, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush partition %s: %w", date, err)
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *CSVSink) writerFor(date string) (*csv.Writer, error) {
	if w, ok := s.writers[date]; ok {
		return w, nil
	}
	path := filepath.Join(s.dir, "date="+date+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header()); err != nil {
			f.Close()
			return nil, err
		}
	}
	s.files[date] = f
	s.writers[date] = w
	return w, nil
}

func formatVal(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
