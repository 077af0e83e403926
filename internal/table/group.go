package table

import "sort"

// Group is one partition produced by GroupBy.
type Group struct {
	// Key holds the grouping values, aligned with the grouping columns.
	Key []any
	// Rows lists member row indexes in original order.
	Rows []int
}

// GroupBy partitions rows by the values of cols.
//
// Groups are returned sorted by key: numbers numerically, strings lexically,
// nulls last. Rows whose key contains a null form their own partition; use
// DropNull first to discard them.
//
// Errors:
//   - SchemaError if any grouping column is missing.
func (t *Table) GroupBy(cols ...string) ([]Group, error) {
	if err := t.Require("group_by", cols...); err != nil {
		return nil, err
	}
	byKey := make(map[string]int)
	var groups []Group
	for i := 0; i < t.n; i++ {
		key := make([]any, len(cols))
		for j, c := range cols {
			key[j] = t.Value(i, c)
		}
		k := Key(key...)
		gi, ok := byKey[k]
		if !ok {
			gi = len(groups)
			byKey[k] = gi
			groups = append(groups, Group{Key: key})
		}
		groups[gi].Rows = append(groups[gi].Rows, i)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return CompareKeys(groups[a].Key, groups[b].Key) < 0
	})
	return groups, nil
}

// CountDistinct counts distinct non-null values of column per group of cols
// and returns a table {cols..., output}.
func (t *Table) CountDistinct(cols []string, column, output string) (*Table, error) {
	if err := t.Require("count_distinct", append(append([]string(nil), cols...), column)...); err != nil {
		return nil, err
	}
	groups, err := t.GroupBy(cols...)
	if err != nil {
		return nil, err
	}
	out := New(append(append([]string(nil), cols...), output)...)
	for _, g := range groups {
		seen := make(map[string]struct{}, len(g.Rows))
		for _, i := range g.Rows {
			v := t.Value(i, column)
			if IsNull(v) {
				continue
			}
			seen[Key(v)] = struct{}{}
		}
		row := append(append([]any(nil), g.Key...), int64(len(seen)))
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MinBy returns {cols..., column} holding the smallest numeric value of
// column per group. Groups whose values are all null get nil.
func (t *Table) MinBy(cols []string, column string) (*Table, error) {
	if err := t.Require("min_by", append(append([]string(nil), cols...), column)...); err != nil {
		return nil, err
	}
	groups, err := t.GroupBy(cols...)
	if err != nil {
		return nil, err
	}
	out := New(append(append([]string(nil), cols...), column)...)
	for _, g := range groups {
		var best any
		for _, i := range g.Rows {
			v := t.Value(i, column)
			if IsNull(v) {
				continue
			}
			f, ok := Float(v)
			if !ok {
				return nil, &TypeMismatchError{Op: "min_by", Column: column, Row: i, Value: v, Want: "number"}
			}
			if best == nil || f < best.(float64) {
				best = f
			}
		}
		if err := out.Append(append(append([]any(nil), g.Key...), best)...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
