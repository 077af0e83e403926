// Package clean applies the serialization null policy: null and NaN fields
// disappear from records, recursively, right before artifacts are written.
package clean

import (
	"agoraetl/internal/table"
)

// Value returns v with null fields stripped from every record it contains.
//
//   - A record drops nil/NaN fields and nested records that become empty.
//   - A list keeps its scalar elements, cleans record elements and drops those
//     that become empty. Lists themselves are kept even when empty.
//
// Values are copied, never modified in place.
func Value(v any) any {
	switch t := v.(type) {
	case table.Record:
		return Record(t)
	case []table.Record:
		out := make([]table.Record, 0, len(t))
		for _, r := range t {
			if c := Record(r); len(c) > 0 {
				out = append(out, c)
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if r, ok := e.(table.Record); ok {
				if c := Record(r); len(c) > 0 {
					out = append(out, c)
				}
				continue
			}
			out = append(out, Value(e))
		}
		return out
	default:
		return v
	}
}

// Record strips null fields from r.
func Record(r table.Record) table.Record {
	out := make(table.Record, 0, len(r))
	for _, f := range r {
		if table.IsNull(f.Value) {
			continue
		}
		v := Value(f.Value)
		if nested, ok := v.(table.Record); ok && len(nested) == 0 {
			continue
		}
		out = append(out, table.Field{Name: f.Name, Value: v})
	}
	return out
}

// Records cleans every row of t; top-level null cells become absent fields.
func Records(t *table.Table) []table.Record {
	rows := t.Records()
	for i, r := range rows {
		rows[i] = Record(r)
	}
	return rows
}
