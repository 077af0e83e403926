// Package distribution computes the robust summary statistics published for
// score and fold-change columns: Tukey fences per group, and a fixed-width
// histogram with quartiles for capped scores.
package distribution

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"agoraetl/internal/table"
)

// Round rounds x to the given number of decimals, halves to even.
func Round(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(x*p) / p
}

// Quantile returns the q-th quantile of sorted using midpoint interpolation:
// when the rank falls between two observations their mean is returned.
// sorted must be ascending and non-empty.
func Quantile(sorted []float64, q float64) float64 {
	pos := float64(len(sorted)-1) * q
	lo, hi := math.Floor(pos), math.Ceil(pos)
	if lo == hi {
		return sorted[int(lo)]
	}
	return (sorted[int(lo)] + sorted[int(hi)]) / 2
}

// values collects the non-null cells of column as float64 in row order.
func values(t *table.Table, rows []int, column, op string) ([]float64, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, &table.SchemaError{Op: op, Missing: []string{column}}
	}
	if rows == nil {
		rows = make([]int, len(col))
		for i := range rows {
			rows[i] = i
		}
	}
	out := make([]float64, 0, len(rows))
	for _, i := range rows {
		v := col[i]
		if table.IsNull(v) {
			continue
		}
		// untyped reads can leave NaN as text; it is missing, not a number.
		if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "nan") {
			continue
		}
		f, ok := table.Float(v)
		if !ok {
			return nil, &table.TypeMismatchError{Op: op, Column: column, Row: i, Value: v, Want: "number"}
		}
		out = append(out, f)
	}
	return out, nil
}

// Fences summarizes column per group of grouping as
// {grouping..., min, max, first_quartile, median, third_quartile}.
//
// min and max are the Tukey fences Q1-1.5*IQR and Q3+1.5*IQR, not the data
// extremes. Quartiles use midpoint interpolation and every statistic is
// rounded to 4 decimals. Groups whose key contains a null are skipped; a group
// with no numeric values gets nil statistics.
//
// Errors:
//   - SchemaError if a grouping column or column is missing.
//   - TypeMismatchError if a non-null cell is not numeric.
func Fences(t *table.Table, grouping []string, column string) (*table.Table, error) {
	if err := t.Require("distribution", append(append([]string(nil), grouping...), column)...); err != nil {
		return nil, err
	}
	groups, err := t.GroupBy(grouping...)
	if err != nil {
		return nil, err
	}
	out := table.New(append(append([]string(nil), grouping...),
		"min", "max", "first_quartile", "median", "third_quartile")...)
	for _, g := range groups {
		if hasNull(g.Key) {
			continue
		}
		vals, err := values(t, g.Rows, column, "distribution")
		if err != nil {
			return nil, err
		}
		row := append([]any(nil), g.Key...)
		if len(vals) == 0 {
			row = append(row, nil, nil, nil, nil, nil)
		} else {
			sort.Float64s(vals)
			q1, med, q3 := Quantile(vals, 0.25), Quantile(vals, 0.5), Quantile(vals, 0.75)
			iqr := q3 - q1
			row = append(row,
				Round(q1-1.5*iqr, 4),
				Round(q3+1.5*iqr, 4),
				Round(q1, 4),
				Round(med, 4),
				Round(q3, 4),
			)
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func hasNull(key []any) bool {
	for _, v := range key {
		if table.IsNull(v) {
			return true
		}
	}
	return false
}

// Bins is the histogram bin count used by Binned.
const Bins = 10

// Summary is the binned distribution of one score column.
type Summary struct {
	// Distribution holds Bins counts of the filtered values.
	Distribution []int64
	// Edges holds Bins (lower, upper) pairs rounded to 2 decimals. The first
	// lower edge is always 0.
	Edges [][2]float64

	Min, Max, Mean float64
	FirstQuartile  float64
	ThirdQuartile  float64
}

// Record renders s with the published field names and order. Statistics of
// an empty input are NaN and disappear at serialization.
func (s *Summary) Record() table.Record {
	dist := make([]any, len(s.Distribution))
	for i, c := range s.Distribution {
		dist[i] = c
	}
	bins := make([]any, len(s.Edges))
	for i, e := range s.Edges {
		bins[i] = []any{e[0], e[1]}
	}
	return table.Record{
		{Name: "distribution", Value: dist},
		{Name: "bins", Value: bins},
		{Name: "min", Value: s.Min},
		{Name: "max", Value: s.Max},
		{Name: "mean", Value: s.Mean},
		{Name: "first_quartile", Value: s.FirstQuartile},
		{Name: "third_quartile", Value: s.ThirdQuartile},
	}
}

// Total returns the sum of the histogram counts.
func (s *Summary) Total() int64 {
	var n int64
	for _, c := range s.Distribution {
		n += c
	}
	return n
}

// Binned computes the capped-score histogram of column.
//
// Rows are kept when isScored equals "Y"; with an empty isScored, rows where
// any cell equals "Y" are kept. Null values are skipped. The synthetic values
// 0 and upperBound are added so the Bins equal-width bins always span
// [0, upperBound]; they are subtracted again from the first and last counts,
// so the counts sum to the number of kept values.
//
// Bins are right-closed with the lowest edge lowered by 0.1% of the range.
// min, max and mean are rounded to 4 decimals while the quartiles (midpoint
// interpolation over the kept values) are rounded to 0 decimals.
//
// Errors:
//   - SchemaError if column or a non-empty isScored is missing.
//   - TypeMismatchError if a kept, non-null cell is not numeric.
func Binned(t *table.Table, column, isScored string, upperBound float64) (*Summary, error) {
	need := []string{column}
	if isScored != "" {
		need = append(need, isScored)
	}
	if err := t.Require("distribution_binned", need...); err != nil {
		return nil, err
	}

	var kept *table.Table
	if isScored != "" {
		kept = t.Filter(func(r table.Row) bool { return r.Get(isScored) == "Y" })
	} else {
		cols := t.Columns()
		kept = t.Filter(func(r table.Row) bool {
			for _, c := range cols {
				if r.Get(c) == "Y" {
					return true
				}
			}
			return false
		})
	}
	vals, err := values(kept, nil, column, "distribution_binned")
	if err != nil {
		return nil, err
	}

	augmented := append(append(make([]float64, 0, len(vals)+2), vals...), 0, upperBound)
	edges := cutEdges(augmented, Bins)
	counts := make([]int64, Bins)
	for _, v := range augmented {
		counts[binOf(edges, v)]++
	}
	counts[0]--
	counts[Bins-1]--

	s := &Summary{Distribution: counts, Edges: make([][2]float64, Bins)}
	lower := 0.0
	for i := 0; i < Bins; i++ {
		upper := Round(edges[i+1], 2)
		s.Edges[i] = [2]float64{lower, upper}
		lower = upper
	}

	if len(vals) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.FirstQuartile, s.ThirdQuartile = nan, nan, nan, nan, nan
		return s, nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	s.Min = Round(sorted[0], 4)
	s.Max = Round(sorted[len(sorted)-1], 4)
	s.Mean = Round(stat.Mean(sorted, nil), 4)
	s.FirstQuartile = Round(Quantile(sorted, 0.25), 0)
	s.ThirdQuartile = Round(Quantile(sorted, 0.75), 0)
	return s, nil
}

// cutEdges returns n+1 equal-width, right-closed bin edges over x with the
// lowest edge lowered by 0.1% of the range. A zero range is widened by 0.1%
// of the value on each side first.
func cutEdges(x []float64, n int) []float64 {
	lo, hi := floats.Min(x), floats.Max(x)
	edges := make([]float64, n+1)
	if lo == hi {
		if lo != 0 {
			lo -= 0.001 * math.Abs(lo)
			hi += 0.001 * math.Abs(hi)
		} else {
			lo, hi = -0.001, 0.001
		}
		return floats.Span(edges, lo, hi)
	}
	floats.Span(edges, lo, hi)
	edges[0] -= (hi - lo) * 0.001
	return edges
}

// binOf returns the index of the right-closed bin holding v. Values at or
// below the first edge fall in the first bin.
func binOf(edges []float64, v float64) int {
	i := sort.SearchFloat64s(edges, v) - 1
	if i < 0 {
		return 0
	}
	if i >= len(edges)-1 {
		return len(edges) - 2
	}
	return i
}
