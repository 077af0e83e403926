// Package table implements the in-memory columnar dataset that every
// transform consumes and produces.
//
// A Table is a set of named columns of equal length. Cells are plain Go
// values: nil, float64, int64, string, bool, []any (list cells) and Record
// (nested record cells). Tables are treated as immutable by convention:
// every operation returns a new Table and never writes into its receiver.
package table

import (
	"fmt"
	"sort"
)

// Table is an ordered set of named, equal-length columns.
type Table struct {
	names []string
	index map[string]int
	cols  [][]any
	n     int
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.addColumn(c, nil)
	}
	return t
}

// FromRows builds a table from positional rows aligned to columns.
//
// Errors:
//   - ShapeError if a column name repeats or a row length differs from len(columns).
func FromRows(columns []string, rows [][]any) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if _, dup := t.index[c]; dup {
			return nil, &ShapeError{Op: "table", Msg: fmt.Sprintf("duplicate column %q", c)}
		}
		t.addColumn(c, make([]any, 0, len(rows)))
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, &ShapeError{Op: "table", Msg: fmt.Sprintf("row %d has %d values, want %d", i, len(r), len(columns))}
		}
		for j, v := range r {
			t.cols[j] = append(t.cols[j], v)
		}
	}
	t.n = len(rows)
	return t, nil
}

// FromColumns builds a table from column vectors.
func FromColumns(columns []string, data [][]any) (*Table, error) {
	if len(columns) != len(data) {
		return nil, &ShapeError{Op: "table", Msg: fmt.Sprintf("%d names for %d columns", len(columns), len(data))}
	}
	t := &Table{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := t.index[c]; dup {
			return nil, &ShapeError{Op: "table", Msg: fmt.Sprintf("duplicate column %q", c)}
		}
		if i > 0 && len(data[i]) != len(data[0]) {
			return nil, &ShapeError{Op: "table", Msg: fmt.Sprintf("column %q has %d values, want %d", c, len(data[i]), len(data[0]))}
		}
		t.addColumn(c, data[i])
	}
	if len(data) > 0 {
		t.n = len(data[0])
	}
	return t, nil
}

// FromRecords builds a table whose columns are the union of record fields in
// first-seen order. Fields missing from a record become nil.
func FromRecords(records []Record) *Table {
	t := New()
	for _, r := range records {
		for _, f := range r {
			if _, ok := t.index[f.Name]; !ok {
				t.addColumn(f.Name, make([]any, t.n))
			}
		}
		for j := range t.cols {
			t.cols[j] = append(t.cols[j], nil)
		}
		for _, f := range r {
			t.cols[t.index[f.Name]][t.n] = f.Value
		}
		t.n++
	}
	return t
}

func (t *Table) addColumn(name string, values []any) {
	t.index[name] = len(t.names)
	t.names = append(t.names, name)
	t.cols = append(t.cols, values)
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.n }

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string { return append([]string(nil), t.names...) }

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column's values. The slice is shared with the
// table and must not be modified.
func (t *Table) Column(name string) ([]any, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, &SchemaError{Op: "column", Missing: []string{name}}
	}
	return t.cols[i], nil
}

// Value returns the cell at row i of the named column, or nil.
func (t *Table) Value(i int, name string) any {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.cols[j][i]
}

// Row returns a copy of row i in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.cols))
	for j := range t.cols {
		out[j] = t.cols[j][i]
	}
	return out
}

// Record returns row i as a Record in column order.
func (t *Table) Record(i int) Record {
	out := make(Record, len(t.cols))
	for j, name := range t.names {
		out[j] = Field{Name: name, Value: t.cols[j][i]}
	}
	return out
}

// Records returns every row as a Record.
func (t *Table) Records() []Record {
	out := make([]Record, t.n)
	for i := range out {
		out[i] = t.Record(i)
	}
	return out
}

// Append adds one row. values must align with Columns().
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.cols) {
		return &ShapeError{Op: "append", Msg: fmt.Sprintf("got %d values, want %d", len(values), len(t.cols))}
	}
	for j, v := range values {
		t.cols[j] = append(t.cols[j], v)
	}
	t.n++
	return nil
}

// Valid checks that every column holds exactly Len() values.
func (t *Table) Valid() error {
	for j, c := range t.cols {
		if len(c) != t.n {
			return &ShapeError{Op: "table", Msg: fmt.Sprintf("column %q has %d values, want %d", t.names[j], len(c), t.n)}
		}
	}
	return nil
}

// Require returns a SchemaError naming every column in cols that t lacks.
func (t *Table) Require(op string, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Op: op, Missing: missing}
	}
	return nil
}

// Clone returns a copy whose column slices can be modified freely.
func (t *Table) Clone() *Table {
	out := &Table{index: make(map[string]int, len(t.names)), n: t.n}
	for j, name := range t.names {
		out.addColumn(name, append([]any(nil), t.cols[j]...))
	}
	return out
}

// Select projects t onto cols, in the given order.
func (t *Table) Select(cols ...string) (*Table, error) {
	if err := t.Require("select", cols...); err != nil {
		return nil, err
	}
	out := &Table{index: make(map[string]int, len(cols)), n: t.n}
	for _, c := range cols {
		if out.Has(c) {
			continue
		}
		out.addColumn(c, t.cols[t.index[c]])
	}
	return out, nil
}

// Drop removes cols. Unknown names are ignored.
func (t *Table) Drop(cols ...string) *Table {
	skip := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		skip[c] = struct{}{}
	}
	out := &Table{index: make(map[string]int, len(t.names)), n: t.n}
	for j, name := range t.names {
		if _, ok := skip[name]; ok {
			continue
		}
		out.addColumn(name, t.cols[j])
	}
	return out
}

// Rename returns t with columns renamed by m. Names absent from m are kept.
// When a rename collides with an existing column the later column wins.
func (t *Table) Rename(m map[string]string) *Table {
	out := &Table{index: make(map[string]int, len(t.names)), n: t.n}
	for j, name := range t.names {
		if to, ok := m[name]; ok && to != "" {
			name = to
		}
		if i, exists := out.index[name]; exists {
			out.cols[i] = t.cols[j]
			continue
		}
		out.addColumn(name, t.cols[j])
	}
	return out
}

// WithColumn returns t with the named column set to values, replacing an
// existing column in place or appending a new one.
func (t *Table) WithColumn(name string, values []any) (*Table, error) {
	if len(t.names) > 0 && len(values) != t.n {
		return nil, &ShapeError{Op: "with_column", Msg: fmt.Sprintf("column %q has %d values, want %d", name, len(values), t.n)}
	}
	out := &Table{index: make(map[string]int, len(t.names)+1), n: len(values)}
	for j, c := range t.names {
		out.addColumn(c, t.cols[j])
	}
	if i, ok := out.index[name]; ok {
		out.cols[i] = values
	} else {
		out.addColumn(name, values)
	}
	return out, nil
}

// Derive computes a column from each row.
func (t *Table) Derive(name string, fn func(r Row) any) *Table {
	values := make([]any, t.n)
	for i := range values {
		values[i] = fn(Row{t: t, i: i})
	}
	out, _ := t.WithColumn(name, values)
	return out
}

// Map returns t with every cell of column name replaced by fn(cell).
func (t *Table) Map(name string, fn func(v any) any) (*Table, error) {
	src, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(src))
	for i, v := range src {
		values[i] = fn(v)
	}
	return t.WithColumn(name, values)
}

// Filter keeps rows for which keep returns true.
func (t *Table) Filter(keep func(r Row) bool) *Table {
	idx := make([]int, 0, t.n)
	for i := 0; i < t.n; i++ {
		if keep(Row{t: t, i: i}) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Take returns the rows at idx, in idx order. An index of -1 yields a row of
// nils, which is how unmatched join sides are materialized.
func (t *Table) Take(idx []int) *Table {
	out := &Table{index: make(map[string]int, len(t.names)), n: len(idx)}
	for j, name := range t.names {
		col := make([]any, len(idx))
		for k, i := range idx {
			if i >= 0 {
				col[k] = t.cols[j][i]
			}
		}
		out.addColumn(name, col)
	}
	return out
}

// DropNull removes rows where any of cols is null. With no cols, every
// column is checked.
func (t *Table) DropNull(cols ...string) *Table {
	if len(cols) == 0 {
		cols = t.names
	}
	return t.Filter(func(r Row) bool {
		for _, c := range cols {
			if IsNull(r.Get(c)) {
				return false
			}
		}
		return true
	})
}

// DropDuplicates removes rows identical to an earlier row, keeping the first.
func (t *Table) DropDuplicates() *Table {
	seen := make(map[string]struct{}, t.n)
	idx := make([]int, 0, t.n)
	for i := 0; i < t.n; i++ {
		k := Key(t.Row(i)...)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		idx = append(idx, i)
	}
	return t.Take(idx)
}

// SortBy stably orders rows by the given key columns.
func (t *Table) SortBy(cols ...string) (*Table, error) {
	if err := t.Require("sort", cols...); err != nil {
		return nil, err
	}
	idx := make([]int, t.n)
	for i := range idx {
		idx[i] = i
	}
	key := func(i int) []any {
		k := make([]any, len(cols))
		for j, c := range cols {
			k[j] = t.Value(i, c)
		}
		return k
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return CompareKeys(key(idx[a]), key(idx[b])) < 0
	})
	return t.Take(idx), nil
}

// Concat stacks tables vertically. Columns are the union in first-seen order;
// cells for columns a table lacks are nil.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, name := range t.names {
			if !out.Has(name) {
				out.addColumn(name, make([]any, out.n))
			}
		}
		for j, name := range out.names {
			if i, ok := t.index[name]; ok {
				out.cols[j] = append(out.cols[j], t.cols[i]...)
			} else {
				out.cols[j] = append(out.cols[j], make([]any, t.n)...)
			}
		}
		out.n += t.n
	}
	return out
}

// Row is a read-only view of one table row.
type Row struct {
	t *Table
	i int
}

// Get returns the named cell, or nil when the column does not exist.
func (r Row) Get(name string) any { return r.t.Value(r.i, name) }

// Index returns the row position within its table.
func (r Row) Index() int { return r.i }
