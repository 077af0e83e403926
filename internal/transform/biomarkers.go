package transform

import (
	"agoraetl/internal/table"
)

var (
	defaultGroupColumns = []string{"model", "type", "age_death", "tissue", "units"}
	defaultPointColumns = []string{"genotype", "measurement", "sex"}
)

func biomarkers(in Inputs, p Params) (Result, error) {
	t, err := in.Primary(Biomarkers, "biomarkers")
	if err != nil {
		return Result{}, err
	}
	return groupPoints(t, p)
}

func modelTransform(in Inputs, p Params) (Result, error) {
	if len(in) != 1 {
		return Result{}, &ConfigurationError{Transform: string(ModelTransform), Msg: "expects exactly one input"}
	}
	var t *table.Table
	for _, v := range in {
		t = v
	}
	return groupPoints(t, p)
}

// groupPoints emits one record per distinct group_columns tuple holding the
// group values and a list of point records built from point_columns. Groups
// with a null key are skipped.
//
// Errors:
//   - SchemaError naming every absent group or point column.
func groupPoints(t *table.Table, p Params) (Result, error) {
	groupCols := p.Strings("group_columns", defaultGroupColumns)
	pointCols := p.Strings("point_columns", defaultPointColumns)
	field := p.String("points_field", "points")

	if err := t.Require("model_transform", append(append([]string(nil), groupCols...), pointCols...)...); err != nil {
		return Result{}, err
	}
	groups, err := t.GroupBy(groupCols...)
	if err != nil {
		return Result{}, err
	}
	out := make([]table.Record, 0, len(groups))
	for _, g := range groups {
		if hasNullKey(g.Key) {
			continue
		}
		rec := make(table.Record, 0, len(groupCols)+1)
		for j, c := range groupCols {
			rec = append(rec, table.Field{Name: c, Value: g.Key[j]})
		}
		points := make([]any, len(g.Rows))
		for k, i := range g.Rows {
			pt := make(table.Record, len(pointCols))
			for j, c := range pointCols {
				v := t.Value(i, c)
				if table.IsNull(v) {
					v = nil
				}
				pt[j] = table.Field{Name: c, Value: v}
			}
			points[k] = pt
		}
		out = append(out, append(rec, table.Field{Name: field, Value: points}))
	}
	return Result{Records: out}, nil
}

func hasNullKey(key []any) bool {
	for _, v := range key {
		if table.IsNull(v) {
			return true
		}
	}
	return false
}
