// Package split expands rows whose column holds a delimited list of
// identifiers into one row per identifier.
package split

import (
	"regexp"
	"strings"

	"agoraetl/internal/table"
)

// Delimiter splits a cell value into raw tokens.
type Delimiter interface {
	split(s string) []string
}

type literal string

func (d literal) split(s string) []string { return strings.Split(s, string(d)) }

// Literal splits on an exact substring.
func Literal(s string) Delimiter { return literal(s) }

type pattern struct{ re *regexp.Regexp }

func (d pattern) split(s string) []string { return d.re.Split(s, -1) }

// Pattern splits on every match of re.
func Pattern(re *regexp.Regexp) Delimiter { return pattern{re: re} }

// Tokens returns the non-empty tokens of s, unmodified. Surrounding spaces
// are kept; a pattern delimiter can absorb them.
func Tokens(s string, d Delimiter) []string {
	raw := d.split(s)
	out := raw[:0:0]
	for _, tok := range raw {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Field replaces every row whose column splits into more than one token with
// one row per token, at the original position and in token order. Other
// cells are duplicated. Rows with a single token, non-string cells and nulls
// are left unchanged.
//
// List cells ([]any) are exploded the same way; an empty list becomes one
// row holding nil.
//
// Errors:
//   - SchemaError if column is missing.
func Field(t *table.Table, column string, d Delimiter) (*table.Table, error) {
	src, err := t.Column(column)
	if err != nil {
		return nil, &table.SchemaError{Op: "split", Missing: []string{column}}
	}
	idx := make([]int, 0, t.Len())
	values := make([]any, 0, t.Len())
	for i, v := range src {
		switch cell := v.(type) {
		case string:
			toks := Tokens(cell, d)
			if len(toks) <= 1 {
				idx = append(idx, i)
				values = append(values, v)
				continue
			}
			for _, tok := range toks {
				idx = append(idx, i)
				values = append(values, tok)
			}
		case []any:
			if len(cell) == 0 {
				idx = append(idx, i)
				values = append(values, nil)
				continue
			}
			for _, e := range cell {
				idx = append(idx, i)
				values = append(values, e)
			}
		default:
			idx = append(idx, i)
			values = append(values, v)
		}
	}
	return t.Take(idx).WithColumn(column, values)
}
