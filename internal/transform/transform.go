// Package transform holds the dataset-specific transforms and the registry
// that dispatches a configured dataset to one of them.
//
// A transform receives its already standardized inputs by role plus numeric
// parameters from the dataset configuration, and returns a table, a single
// object (distribution summaries) or a list of nested records.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"agoraetl/internal/table"
)

// ConfigurationError reports a transform invoked with an unknown name, a
// missing input role or a missing parameter.
type ConfigurationError struct {
	Transform string
	Msg       string
}

func (e *ConfigurationError) Error() string {
	if e.Transform == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Transform, e.Msg)
}

// Inputs maps a role name (e.g. "gene_metadata", "igap") to its table.
type Inputs map[string]*table.Table

// Roles returns the role names in sorted order.
func (in Inputs) Roles() []string {
	out := make([]string, 0, len(in))
	for r := range in {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Require returns the tables for roles, or a ConfigurationError naming every
// absent role.
func (in Inputs) Require(kind Kind, roles ...string) ([]*table.Table, error) {
	out := make([]*table.Table, len(roles))
	var missing []string
	for i, r := range roles {
		t, ok := in[r]
		if !ok || t == nil {
			missing = append(missing, r)
			continue
		}
		out[i] = t
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Transform: string(kind), Msg: "missing input roles: " + strings.Join(missing, ", ")}
	}
	return out, nil
}

// Primary returns the table for role, or the only input when there is
// exactly one.
func (in Inputs) Primary(kind Kind, role string) (*table.Table, error) {
	if t, ok := in[role]; ok && t != nil {
		return t, nil
	}
	if len(in) == 1 {
		for _, t := range in {
			if t != nil {
				return t, nil
			}
		}
	}
	return nil, &ConfigurationError{Transform: string(kind), Msg: "missing input role: " + role}
}

// Params holds per-dataset transform parameters as decoded from
// configuration.
type Params map[string]any

// Float returns a required numeric parameter.
func (p Params) Float(kind Kind, name string) (float64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return 0, &ConfigurationError{Transform: string(kind), Msg: "missing parameter " + name}
	}
	f, ok := table.Float(v)
	if !ok {
		return 0, &ConfigurationError{Transform: string(kind), Msg: fmt.Sprintf("parameter %s: %v is not a number", name, v)}
	}
	return f, nil
}

// String returns a string parameter or def.
func (p Params) String(name, def string) string {
	if s, ok := p[name].(string); ok && s != "" {
		return s
	}
	return def
}

// Strings returns a list parameter or def. Both YAML sequences and
// comma-separated strings are accepted.
func (p Params) Strings(name string, def []string) []string {
	switch v := p[name].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s := strings.TrimSpace(table.Text(e)); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

// Result is the output of a transform. Exactly one field is set.
type Result struct {
	Table   *table.Table
	Object  table.Record
	Records []table.Record
}

// Rows returns the number of top-level entries in r.
func (r Result) Rows() int {
	switch {
	case r.Table != nil:
		return r.Table.Len()
	case r.Object != nil:
		return len(r.Object)
	default:
		return len(r.Records)
	}
}
