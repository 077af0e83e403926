// Package standardize normalizes raw column names and values coming from
// heterogeneous sources into the canonical lowercase/underscore naming and a
// single null representation.
package standardize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"agoraetl/internal/table"
)

// removed is the explicit set of characters dropped from column names. It is
// a set of single runes, never a pattern: no ranges, no separators.
var removed = map[rune]struct{}{
	'#': {}, '@': {}, '&': {}, '*': {}, '^': {}, '?': {},
	'(': {}, ')': {}, '%': {}, '$': {}, '!': {}, '/': {},
}

// ColumnName returns the canonical form of one column name.
func ColumnName(name string) string {
	name = norm.NFKC.String(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if _, drop := removed[r]; drop {
			continue
		}
		switch r {
		case ' ', '-', '.':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	// Casers hold state and are not shared across goroutines.
	return cases.Lower(language.Und).String(b.String())
}

// Columns renames every column of t to its canonical form. Applying it twice
// is the same as applying it once.
func Columns(t *table.Table) *table.Table {
	m := make(map[string]string)
	for _, c := range t.Columns() {
		if n := ColumnName(c); n != c {
			m[c] = n
		}
	}
	if len(m) == 0 {
		return t
	}
	return t.Rename(m)
}

// IsNA reports whether s is a case-insensitive "n/a" literal.
func IsNA(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "n/a")
}

// Values replaces "n/a" string cells with nil in every column. Columns with
// nothing to replace are shared with t; t itself is not modified.
func Values(t *table.Table) *table.Table {
	out := t
	for _, c := range t.Columns() {
		col, _ := t.Column(c)
		var next []any
		for i, v := range col {
			s, ok := v.(string)
			if !ok || !IsNA(s) {
				continue
			}
			if next == nil {
				next = append([]any(nil), col...)
			}
			next[i] = nil
		}
		if next == nil {
			continue
		}
		// next has t.Len() cells, so the replacement cannot fail.
		out, _ = out.WithColumn(c, next)
	}
	return out
}

// StripMarkup replaces HTML fragments in the named string columns with their
// whitespace-collapsed text content. Non-string cells are kept as is.
func StripMarkup(t *table.Table, cols ...string) (*table.Table, error) {
	if err := t.Require("strip_markup", cols...); err != nil {
		return nil, err
	}
	out := t
	for _, c := range cols {
		var err error
		out, err = out.Map(c, func(v any) any {
			s, ok := v.(string)
			if !ok || !strings.ContainsAny(s, "<&") {
				return v
			}
			return markupText(s)
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func markupText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
