// Package quality evaluates per-dataset data quality rules against the
// transformed output and produces a report that is staged next to the
// dataset artifact.
package quality

import (
	"fmt"
	"strings"

	"agoraetl/internal/config"
	"agoraetl/internal/table"
)

// maxSamples caps how many offending rows a check lists.
const maxSamples = 5

// Check is the outcome of one rule.
type Check struct {
	Rule     string   `json:"rule"`
	Columns  []string `json:"columns,omitempty"`
	Passed   bool     `json:"passed"`
	Failures int      `json:"failures"`
	Samples  []string `json:"samples,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Report aggregates the checks for one dataset.
type Report struct {
	Dataset string  `json:"dataset"`
	Rows    int     `json:"rows"`
	Passed  bool    `json:"passed"`
	Checks  []Check `json:"checks"`
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Error summarizes failed checks; empty when the report passed.
func (r Report) Error() string {
	failed := r.Failed()
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, len(failed))
	for i, c := range failed {
		parts[i] = fmt.Sprintf("%s(%s): %d failures", c.Rule, strings.Join(c.Columns, ","), c.Failures)
	}
	return "quality checks failed: " + strings.Join(parts, "; ")
}

// Evaluate runs rules against t in order. An unknown rule kind yields a
// failed check rather than an error so the report still lists it.
func Evaluate(dataset string, t *table.Table, rules []config.Rule) Report {
	rep := Report{Dataset: dataset, Rows: t.Len(), Passed: true, Checks: make([]Check, 0, len(rules))}
	for _, r := range rules {
		c := evaluate(t, r)
		if !c.Passed {
			rep.Passed = false
		}
		rep.Checks = append(rep.Checks, c)
	}
	return rep
}

func ruleColumns(r config.Rule) []string {
	var cols []string
	if r.Column != "" {
		cols = append(cols, r.Column)
	}
	return append(cols, r.Columns...)
}

func evaluate(t *table.Table, r config.Rule) Check {
	c := Check{Rule: r.Kind, Columns: ruleColumns(r)}
	switch r.Kind {
	case "columns_present":
		for _, col := range c.Columns {
			if !t.Has(col) {
				c.fail("missing column " + col)
			}
		}
	case "not_null":
		if c.requireColumns(t) {
			for _, col := range c.Columns {
				for i := 0; i < t.Len(); i++ {
					if table.IsNull(t.Value(i, col)) {
						c.fail(fmt.Sprintf("row %d: %s is null", i, col))
					}
				}
			}
		}
	case "unique":
		if c.requireColumns(t) {
			seen := make(map[string]int, t.Len())
			vals := make([]any, len(c.Columns))
			for i := 0; i < t.Len(); i++ {
				for j, col := range c.Columns {
					vals[j] = t.Value(i, col)
				}
				k := table.Key(vals...)
				if first, dup := seen[k]; dup {
					c.fail(fmt.Sprintf("row %d: duplicates row %d", i, first))
					continue
				}
				seen[k] = i
			}
		}
	case "in_set":
		if c.requireColumns(t) {
			allowed := make(map[string]bool, len(r.Values))
			for _, v := range r.Values {
				allowed[v] = true
			}
			for i := 0; i < t.Len(); i++ {
				v := t.Value(i, r.Column)
				if table.IsNull(v) {
					continue
				}
				if s := table.Text(v); !allowed[s] {
					c.fail(fmt.Sprintf("row %d: %q not allowed", i, s))
				}
			}
		}
	case "between":
		if c.requireColumns(t) {
			for i := 0; i < t.Len(); i++ {
				v := t.Value(i, r.Column)
				if table.IsNull(v) {
					continue
				}
				f, ok := table.Float(v)
				switch {
				case !ok:
					c.fail(fmt.Sprintf("row %d: %v is not numeric", i, v))
				case r.Min != nil && f < *r.Min, r.Max != nil && f > *r.Max:
					c.fail(fmt.Sprintf("row %d: %v out of range", i, f))
				}
			}
		}
	default:
		c.Message = fmt.Sprintf("unknown rule %q", r.Kind)
		c.Failures = 1
	}
	c.Passed = c.Failures == 0
	return c
}

// requireColumns fails c when a referenced column is absent.
func (c *Check) requireColumns(t *table.Table) bool {
	if len(c.Columns) == 0 {
		c.Message = "no column configured"
		c.Failures = 1
		return false
	}
	for _, col := range c.Columns {
		if !t.Has(col) {
			c.Message = "missing column " + col
			c.Failures = 1
			return false
		}
	}
	return true
}

func (c *Check) fail(sample string) {
	c.Failures++
	if len(c.Samples) < maxSamples {
		c.Samples = append(c.Samples, sample)
	}
}
