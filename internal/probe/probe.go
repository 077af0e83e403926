// Package probe profiles a sampled dataset input and drafts a dataset entry
// for the pipeline config.
//
// The profile is best-effort: it looks at the first rows of an already
// extracted table, infers a type per column and counts nulls and distinct
// values. Draft turns a profile into a config.Dataset with conservative
// quality rules that are easy to refine by hand.
package probe

import (
	"fmt"
	"sort"
	"strings"

	"agoraetl/internal/config"
	"agoraetl/internal/table"
)

const (
	// DefaultMaxRows bounds how many rows are profiled.
	DefaultMaxRows = 1000
	// maxDistinct caps distinct tracking per column.
	maxDistinct = 10000
	// maxInSet is the largest value set suggested as an in_set rule.
	maxInSet = 8
)

// Column describes one profiled column.
type Column struct {
	Name string
	// Type is int64, float64, bool, string, list, object, mixed or null.
	Type     string
	Rows     int
	Nulls    int
	Distinct int
	// Capped is set when distinct tracking stopped at its limit.
	Capped bool

	values map[string]bool
}

// Ratio is distinct over non-null values, or 0 for an all-null column.
func (c Column) Ratio() float64 {
	if n := c.Rows - c.Nulls; n > 0 {
		return float64(c.Distinct) / float64(n)
	}
	return 0
}

// Values returns the distinct text values seen, sorted. It is empty when the
// column was capped.
func (c Column) Values() []string {
	if c.Capped {
		return nil
	}
	out := make([]string, 0, len(c.values))
	for v := range c.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Profile is the result of sampling a table.
type Profile struct {
	Rows    int
	Columns []Column
}

// Sample profiles at most maxRows rows of t (DefaultMaxRows when <= 0).
func Sample(t *table.Table, maxRows int) Profile {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	n := min(t.Len(), maxRows)
	p := Profile{Rows: n}
	for _, name := range t.Columns() {
		c := Column{Name: name, Rows: n, values: make(map[string]bool)}
		for i := 0; i < n; i++ {
			v := t.Value(i, name)
			if table.IsNull(v) {
				c.Nulls++
				continue
			}
			c.Type = mergeType(c.Type, typeOf(v))
			if c.Capped {
				continue
			}
			k := table.Text(v)
			if !c.values[k] {
				if len(c.values) >= maxDistinct {
					c.Capped = true
					continue
				}
				c.values[k] = true
			}
		}
		if c.Type == "" {
			c.Type = "null"
		}
		c.Distinct = len(c.values)
		p.Columns = append(p.Columns, c)
	}
	return p
}

func typeOf(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "int64"
	case float32, float64:
		return "float64"
	case bool:
		return "bool"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any, table.Record:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func mergeType(have, next string) string {
	switch {
	case have == "" || have == next:
		return next
	case (have == "int64" && next == "float64") || (have == "float64" && next == "int64"):
		return "float64"
	default:
		return "mixed"
	}
}

// Draft builds a dataset entry reading spec with rules suggested by p:
//   - columns_present for every profiled column
//   - not_null for columns with no nulls in the sample
//   - unique for the first column whose sampled values are all distinct
//   - in_set for short, repeated string vocabularies
func Draft(name string, spec config.FileSpec, p Profile) config.Dataset {
	ds := config.Dataset{
		Name:        name,
		Files:       []config.FileSpec{spec},
		FinalFormat: "json",
	}
	if len(p.Columns) == 0 {
		return ds
	}

	var all, notNull []string
	key := ""
	for _, c := range p.Columns {
		all = append(all, c.Name)
		if c.Nulls == 0 && p.Rows > 0 {
			notNull = append(notNull, c.Name)
		}
		if key == "" && p.Rows > 1 && c.Nulls == 0 && !c.Capped && c.Distinct == p.Rows {
			key = c.Name
		}
	}

	rules := []config.Rule{{Kind: "columns_present", Columns: all}}
	if len(notNull) > 0 {
		rules = append(rules, config.Rule{Kind: "not_null", Columns: notNull})
	}
	if key != "" {
		rules = append(rules, config.Rule{Kind: "unique", Column: key})
	}
	for _, c := range p.Columns {
		nonNull := c.Rows - c.Nulls
		if c.Type != "string" || c.Capped || c.Distinct == 0 || c.Distinct > maxInSet {
			continue
		}
		// only vocabularies that repeat; otherwise the sample says little.
		if nonNull < 2*c.Distinct {
			continue
		}
		rules = append(rules, config.Rule{Kind: "in_set", Column: c.Name, Values: c.Values()})
	}
	ds.Quality.Rules = rules
	return ds
}

// Report renders a per-column summary sorted by uniqueness ratio.
func (p Profile) Report() string {
	if p.Rows <= 0 {
		return "profile: no rows sampled"
	}
	cols := append([]Column(nil), p.Columns...)
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Ratio() == cols[j].Ratio() {
			return cols[i].Name < cols[j].Name
		}
		return cols[i].Ratio() < cols[j].Ratio()
	})

	var b strings.Builder
	fmt.Fprintf(&b, "profile:\tsampled_rows=%d\n", p.Rows)
	fmt.Fprintf(&b, "%-24s\t%-8s\t%-7s\t%-7s\tratio\tcapped\n", "col", "type", "nulls", "unique")
	for _, c := range cols {
		fmt.Fprintf(&b, "%-24s\t%-8s\t%-7d\t%-7d\t%.1f%%\t%t\n",
			c.Name, c.Type, c.Nulls, c.Distinct, c.Ratio()*100, c.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
