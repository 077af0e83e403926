// Package nest collapses rows sharing a grouping key into one row holding a
// list of records, or a single record, built from the remaining columns.
package nest

import (
	"fmt"

	"agoraetl/internal/table"
)

// NullPolicy selects how null cells appear inside nested records.
type NullPolicy int

const (
	// NullMarker keeps null cells as explicit nil fields. Removal happens only
	// at serialization time.
	NullMarker NullPolicy = iota
	// EmptyString replaces null cells with "". Used for display-oriented
	// nested lists such as team members.
	EmptyString
)

// Spec describes one nesting operation.
type Spec struct {
	// Grouping lists the key columns kept on the output rows.
	Grouping []string
	// NewField names the output column holding the nested value.
	NewField string
	// Drop lists extra columns left out of the nested records.
	Drop []string
	// AsList nests every group row into a list. When false each group must
	// have exactly one row and the field holds a single record.
	AsList bool
	Nulls  NullPolicy
}

// Fields returns one row per distinct grouping key with Spec.NewField holding
// the nested records. Output rows are ordered by key; records inside a list
// keep input row order.
//
// Errors:
//   - SchemaError if a grouping or drop column is missing.
//   - ShapeError if AsList is false and a group has more than one row.
func Fields(t *table.Table, spec Spec) (*table.Table, error) {
	if spec.NewField == "" {
		return nil, &table.ShapeError{Op: "nest", Msg: "empty field name"}
	}
	if err := t.Require("nest", append(append([]string(nil), spec.Grouping...), spec.Drop...)...); err != nil {
		return nil, err
	}
	groups, err := t.GroupBy(spec.Grouping...)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(spec.Grouping)+len(spec.Drop))
	for _, c := range spec.Grouping {
		skip[c] = struct{}{}
	}
	for _, c := range spec.Drop {
		skip[c] = struct{}{}
	}
	var fields []string
	for _, c := range t.Columns() {
		if _, ok := skip[c]; !ok {
			fields = append(fields, c)
		}
	}

	out := table.New(append(append([]string(nil), spec.Grouping...), spec.NewField)...)
	for _, g := range groups {
		var nested any
		if spec.AsList {
			list := make([]any, len(g.Rows))
			for k, i := range g.Rows {
				list[k] = record(t, i, fields, spec.Nulls)
			}
			nested = list
		} else {
			if len(g.Rows) > 1 {
				return nil, &table.ShapeError{
					Op:  "nest " + spec.NewField,
					Msg: fmt.Sprintf("group %v has %d rows, want 1 for a single record", g.Key, len(g.Rows)),
				}
			}
			nested = record(t, g.Rows[0], fields, spec.Nulls)
		}
		if err := out.Append(append(append([]any(nil), g.Key...), nested)...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func record(t *table.Table, i int, fields []string, nulls NullPolicy) table.Record {
	r := make(table.Record, len(fields))
	for j, c := range fields {
		v := t.Value(i, c)
		if table.IsNull(v) {
			if nulls == EmptyString {
				v = ""
			} else {
				v = nil
			}
		}
		r[j] = table.Field{Name: c, Value: v}
	}
	return r
}
