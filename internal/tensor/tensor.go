// Package tensor provides the dense array primitives shared by the data
// layer, the estimators and the compartmental model: day-major series,
// scatter-add reductions onto group index spaces, rolling means and
// boundary-aware window sums.
package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/lshin-apl/bucky/domain/core"
)

// Series is a day-major matrix of per-node daily values. Row d holds the
// values of every node on day d; rows are contiguous so per-day slices can
// be handed to reductions without copying.
type Series struct {
	Days  int
	Nodes int
	data  []float64
}

// NewSeries allocates a zero-filled series.
func NewSeries(days, nodes int) *Series {
	return &Series{Days: days, Nodes: nodes, data: make([]float64, days*nodes)}
}

// SeriesFromRows builds a series from per-day rows, which must all share one
// length.
func SeriesFromRows(rows [][]float64) (*Series, error) {
	if len(rows) == 0 {
		return NewSeries(0, 0), nil
	}
	nodes := len(rows[0])
	s := NewSeries(len(rows), nodes)
	for d, row := range rows {
		if len(row) != nodes {
			return nil, core.ErrShapeMismatch
		}
		copy(s.Row(d), row)
	}
	return s, nil
}

// At returns the value for node j on day d.
func (s *Series) At(d, j int) float64 { return s.data[d*s.Nodes+j] }

// Set assigns the value for node j on day d.
func (s *Series) Set(d, j int, v float64) { s.data[d*s.Nodes+j] = v }

// Row returns the mutable slice of all node values on day d.
func (s *Series) Row(d int) []float64 { return s.data[d*s.Nodes : (d+1)*s.Nodes] }

// FromEnd returns the row d days before the last one (FromEnd(0) = last day).
func (s *Series) FromEnd(d int) []float64 { return s.Row(s.Days - 1 - d) }

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	out := NewSeries(s.Days, s.Nodes)
	copy(out.data, s.data)
	return out
}

// Clip bounds every value into [lo, hi] in place and returns the series.
func (s *Series) Clip(lo, hi float64) *Series {
	ClipSlice(s.data, lo, hi)
	return s
}

// Total returns the sum over all days and nodes.
func (s *Series) Total() float64 { return floats.Sum(s.data) }

// Diff returns the day-over-day first difference, one row shorter.
func Diff(s *Series) *Series {
	if s.Days < 2 {
		return NewSeries(0, s.Nodes)
	}
	out := NewSeries(s.Days-1, s.Nodes)
	for d := 1; d < s.Days; d++ {
		dst := out.Row(d - 1)
		copy(dst, s.Row(d))
		floats.Sub(dst, s.Row(d-1))
	}
	return out
}

// RollingMean computes the trailing arithmetic mean with a full window,
// producing Days-window+1 rows: row i is the mean of input rows i..i+window-1.
// A window longer than the series is rejected.
func RollingMean(s *Series, window int) (*Series, error) {
	if window < 1 || window > s.Days {
		return nil, core.ErrWindowTooLong
	}
	out := NewSeries(s.Days-window+1, s.Nodes)
	acc := make([]float64, s.Nodes)
	for d := 0; d < window; d++ {
		floats.Add(acc, s.Row(d))
	}
	inv := 1.0 / float64(window)
	for i := 0; ; i++ {
		dst := out.Row(i)
		copy(dst, acc)
		floats.Scale(inv, dst)
		if i+window >= s.Days {
			break
		}
		floats.Sub(acc, s.Row(i))
		floats.Add(acc, s.Row(i+window))
	}
	return out, nil
}

// RollingMeanTruncate is the head-truncating variant: the output keeps the
// input length and early rows average over however many days exist so far.
func RollingMeanTruncate(s *Series, window int) *Series {
	if window < 1 {
		window = 1
	}
	out := NewSeries(s.Days, s.Nodes)
	acc := make([]float64, s.Nodes)
	for d := 0; d < s.Days; d++ {
		floats.Add(acc, s.Row(d))
		if d >= window {
			floats.Sub(acc, s.Row(d-window))
		}
		n := d + 1
		if n > window {
			n = window
		}
		dst := out.Row(d)
		copy(dst, acc)
		floats.Scale(1.0/float64(n), dst)
	}
	return out
}

// GroupSum scatter-adds node values into ngroups buckets using the node to
// group index map. Groups with no members stay exactly zero, and the total
// mass is conserved for any input.
func GroupSum(vals []float64, groups []int, ngroups int) []float64 {
	out := make([]float64, ngroups)
	ScatterAdd(out, groups, vals)
	return out
}

// ScatterAdd performs dst[idx[i]] += src[i] for all i.
func ScatterAdd(dst []float64, idx []int, src []float64) {
	for i, v := range src {
		dst[idx[i]] += v
	}
}

// GroupSumSeries applies GroupSum to every row of a series.
func GroupSumSeries(s *Series, groups []int, ngroups int) *Series {
	out := NewSeries(s.Days, ngroups)
	for d := 0; d < s.Days; d++ {
		ScatterAdd(out.Row(d), groups, s.Row(d))
	}
	return out
}

// SumRows collapses the node axis, returning one total per day.
func SumRows(s *Series) []float64 {
	out := make([]float64, s.Days)
	for d := 0; d < s.Days; d++ {
		out[d] = floats.Sum(s.Row(d))
	}
	return out
}

// TailMean averages the per-node values over the last n days.
func TailMean(s *Series, n int) []float64 {
	if n > s.Days {
		n = s.Days
	}
	out := make([]float64, s.Nodes)
	for d := 0; d < n; d++ {
		floats.Add(out, s.FromEnd(d))
	}
	if n > 0 {
		floats.Scale(1.0/float64(n), out)
	}
	return out
}

// FractionalTailSum sums the most recent window days of each node, linearly
// blending the boundary day when window is fractional: a window of 3.4 adds
// the last 3 full days plus 0.4 of the fourth-from-last.
func FractionalTailSum(s *Series, window float64) []float64 {
	out := make([]float64, s.Nodes)
	if window <= 0 || s.Days == 0 {
		return out
	}
	whole := int(window)
	if whole > s.Days {
		whole = s.Days
	}
	for d := 0; d < whole; d++ {
		floats.Add(out, s.FromEnd(d))
	}
	frac := window - float64(int(window))
	if frac > 0 && whole < s.Days {
		floats.AddScaled(out, frac, s.FromEnd(whole))
	}
	return out
}

// LaggedTail extracts the n most recent rows after stepping back lag days,
// blending the fractional part of lag into every extracted row from the one
// day further back: row i of the result is s[-(n+int(lag))+i] plus
// frac(lag) * s[-(n+int(lag))-1]. The blend keeps a non-integer reporting
// delay from snapping to whole days.
func LaggedTail(s *Series, n int, lag float64) *Series {
	whole := int(lag)
	frac := lag - float64(whole)
	out := NewSeries(n, s.Nodes)
	var boundary []float64
	if frac > 0 && n+whole < s.Days {
		boundary = s.FromEnd(n + whole)
	}
	for i := 0; i < n; i++ {
		dst := out.Row(i)
		copy(dst, s.FromEnd(n+whole-1-i))
		if boundary != nil {
			floats.AddScaled(dst, frac, boundary)
		}
	}
	return out
}

// ClipSlice bounds every value of x into [lo, hi] in place.
func ClipSlice(x []float64, lo, hi float64) {
	for i, v := range x {
		if v < lo {
			x[i] = lo
		} else if v > hi {
			x[i] = hi
		}
	}
}

// AllFinite reports whether x contains no NaN or Inf.
func AllFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OverwriteFinite copies src[i] into dst[i] wherever src[i] is finite and
// keep reports true, leaving other entries untouched. It is the merge step
// of the hierarchical estimator fallback.
func OverwriteFinite(dst, src []float64, keep func(i int) bool) {
	for i, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if keep == nil || keep(i) {
			dst[i] = v
		}
	}
}

// Fill sets every element of x to v.
func Fill(x []float64, v float64) {
	for i := range x {
		x[i] = v
	}
}
