package table

import (
	"fmt"
	"sort"
	"strings"
)

// How selects the join type for Merge.
type How int

const (
	Inner How = iota
	Left
	Outer
)

func (h How) String() string {
	switch h {
	case Inner:
		return "inner"
	case Left:
		return "left"
	case Outer:
		return "outer"
	default:
		return fmt.Sprintf("How(%d)", int(h))
	}
}

// Validate selects the key-uniqueness check Merge runs before joining.
type Validate int

const (
	ValidateNone Validate = iota
	// ValidateManyToOne requires the right side to be unique on the key.
	ValidateManyToOne
	// ValidateOneToOne requires both sides to be unique on the key.
	ValidateOneToOne
)

// MergeOptions configures Merge.
type MergeOptions struct {
	How      How
	Validate Validate

	// Suffixes disambiguate non-key columns present on both sides.
	// Defaults to "_x" and "_y".
	Suffixes [2]string

	// Name identifies the right-hand dataset in error messages.
	Name string
}

// Merge joins right onto left on the key columns.
//
// Semantics:
//   - Output columns are left's columns (key columns in place), then right's
//     non-key columns. Overlapping non-key names receive Suffixes.
//   - Inner and Left keep left row order; each left row is repeated once per
//     matching right row.
//   - Outer appends unmatched right rows and then orders all rows by key
//     (nulls last), so the result is deterministic regardless of input order.
//   - Keys containing a null never match anything; such rows survive only in
//     Left/Outer joins, unmatched.
//
// The uniqueness check runs in a separate pass before any row is joined.
//
// Errors:
//   - SchemaError if a key column is missing on either side.
//   - ShapeError if opt.Validate is violated; the message lists up to five
//     duplicate keys.
//   - ShapeError if a suffixed name collides with another output column.
func Merge(left, right *Table, on []string, opt MergeOptions) (*Table, error) {
	if len(on) == 0 {
		return nil, &ShapeError{Op: "merge", Msg: "no key columns"}
	}
	if err := left.Require("merge left", on...); err != nil {
		return nil, err
	}
	if err := right.Require(mergeOp(opt.Name), on...); err != nil {
		return nil, err
	}
	sfx := opt.Suffixes
	if sfx[0] == "" && sfx[1] == "" {
		sfx = [2]string{"_x", "_y"}
	}

	rightIndex := keyIndex(right, on)
	switch opt.Validate {
	case ValidateOneToOne:
		if err := checkUnique(keyIndex(left, on), "left keys are not unique", opt.Name); err != nil {
			return nil, err
		}
		fallthrough
	case ValidateManyToOne:
		if err := checkUnique(rightIndex, "right keys are not unique", opt.Name); err != nil {
			return nil, err
		}
	}

	isKey := make(map[string]bool, len(on))
	for _, c := range on {
		isKey[c] = true
	}

	type part struct {
		src  *Table
		from string
		to   string
	}
	var parts []part
	for _, c := range left.names {
		name := c
		if !isKey[c] && right.Has(c) {
			name = c + sfx[0]
		}
		parts = append(parts, part{src: left, from: c, to: name})
	}
	for _, c := range right.names {
		if isKey[c] {
			continue
		}
		name := c
		if left.Has(c) {
			name = c + sfx[1]
		}
		parts = append(parts, part{src: right, from: c, to: name})
	}
	seen := make(map[string]bool, len(parts))
	for _, pt := range parts {
		if seen[pt.to] {
			return nil, &ShapeError{Op: mergeOp(opt.Name), Msg: fmt.Sprintf("column %q would appear twice after suffixing", pt.to)}
		}
		seen[pt.to] = true
	}

	var li, ri []int
	matched := make([]bool, right.n)
	for i := 0; i < left.n; i++ {
		k, ok := rowKey(left, on, i)
		var hits []int
		if ok {
			hits = rightIndex[k]
		}
		if len(hits) == 0 {
			if opt.How != Inner {
				li = append(li, i)
				ri = append(ri, -1)
			}
			continue
		}
		for _, j := range hits {
			li = append(li, i)
			ri = append(ri, j)
			matched[j] = true
		}
	}
	if opt.How == Outer {
		for j := 0; j < right.n; j++ {
			if !matched[j] {
				li = append(li, -1)
				ri = append(ri, j)
			}
		}
	}

	lt, rt := left.Take(li), right.Take(ri)
	out := &Table{index: make(map[string]int, len(parts)), n: len(li)}
	for _, p := range parts {
		src := lt
		if p.src == right {
			src = rt
		}
		col := src.cols[src.index[p.from]]
		if isKey[p.from] {
			// Right-only rows carry their key on the right side.
			col = append([]any(nil), col...)
			rk := rt.cols[rt.index[p.from]]
			for r := range col {
				if li[r] < 0 {
					col[r] = rk[r]
				}
			}
		}
		out.addColumn(p.to, col)
	}

	if opt.How == Outer {
		return out.SortBy(on...)
	}
	return out, nil
}

func mergeOp(name string) string {
	if name == "" {
		return "merge right"
	}
	return "merge " + name
}

func keyIndex(t *Table, on []string) map[string][]int {
	idx := make(map[string][]int, t.n)
	for i := 0; i < t.n; i++ {
		k, ok := rowKey(t, on, i)
		if !ok {
			continue
		}
		idx[k] = append(idx[k], i)
	}
	return idx
}

// rowKey returns the canonical key for row i, or ok=false when any key cell
// is null.
func rowKey(t *Table, on []string, i int) (string, bool) {
	vals := make([]any, len(on))
	for j, c := range on {
		v := t.Value(i, c)
		if IsNull(v) {
			return "", false
		}
		vals[j] = v
	}
	return Key(vals...), true
}

func checkUnique(idx map[string][]int, msg, name string) error {
	var dups []string
	for k, rows := range idx {
		if len(rows) > 1 {
			dups = append(dups, displayKey(k))
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	total := len(dups)
	if len(dups) > 5 {
		dups = dups[:5]
	}
	return &ShapeError{
		Op:  mergeOp(name),
		Msg: fmt.Sprintf("%s: %d duplicated (e.g. %s)", msg, total, strings.Join(dups, ", ")),
	}
}

// displayKey strips type tags from a canonical key for error messages.
func displayKey(k string) string {
	parts := strings.Split(k, "\x1f")
	for i, p := range parts {
		if len(p) > 2 && p[1] == ':' {
			parts[i] = p[2:]
		}
	}
	return strings.Join(parts, "|")
}
