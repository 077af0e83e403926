package config

import (
	"fmt"
	"strings"

	"agoraetl/internal/transform"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a pipeline config. Path points at the
// offending field, e.g. datasets[2].files[0].format.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var (
	fileFormats   = map[string]bool{"csv": true, "tsv": true, "json": true, "feather": true}
	finalFormats  = map[string]bool{"json": true, "csv": true}
	destKinds     = map[string]bool{"local": true, "s3": true}
	manifestKinds = map[string]bool{"": true, "sqlite": true, "postgres": true, "mssql": true}
	ruleKinds     = map[string]bool{"columns_present": true, "not_null": true, "unique": true, "in_set": true, "between": true}
)

// Validate checks p without touching the network or filesystem.
func Validate(p *Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.StagingPath) == "" {
		add(SeverityError, "staging_path", "must not be empty")
	}
	if p.Runtime.Workers < 1 {
		add(SeverityError, "runtime.workers", "must be >= 1, got %d", p.Runtime.Workers)
	}
	if !destKinds[p.Destination.Kind] {
		add(SeverityError, "destination.kind", "unknown kind %q (want local or s3)", p.Destination.Kind)
	}
	if p.Destination.Kind == "s3" && p.Destination.Bucket == "" {
		add(SeverityError, "destination.bucket", "required when destination.kind is s3")
	}
	if !manifestKinds[p.Manifest.Kind] {
		add(SeverityError, "manifest.kind", "unknown kind %q (want sqlite, postgres or mssql)", p.Manifest.Kind)
	} else if p.Manifest.Kind != "" && p.Manifest.DSN == "" {
		add(SeverityError, "manifest.dsn", "required when manifest.kind is set")
	}
	if len(p.Datasets) == 0 {
		add(SeverityWarning, "datasets", "no datasets configured")
	}

	seen := make(map[string]int)
	for i, d := range p.Datasets {
		base := fmt.Sprintf("datasets[%d]", i)
		if d.Name == "" {
			add(SeverityError, base+".name", "must not be empty")
		} else if j, dup := seen[d.Name]; dup {
			add(SeverityError, base+".name", "duplicate dataset %q (also datasets[%d])", d.Name, j)
		} else {
			seen[d.Name] = i
		}
		if d.Transform != "" && !transform.Known(d.Transform) {
			add(SeverityError, base+".transform", "unknown transform %q", d.Transform)
		}
		if d.Transform == "" && len(d.Files) != 1 {
			add(SeverityError, base+".files", "a dataset without a transform needs exactly one file, got %d", len(d.Files))
		}
		if len(d.Files) == 0 {
			add(SeverityError, base+".files", "at least one file is required")
		}
		if !finalFormats[d.FinalFormat] && d.FinalFormat != "" {
			add(SeverityError, base+".final_format", "unknown format %q (want json or csv)", d.FinalFormat)
		}

		roles := make(map[string]bool)
		for j, f := range d.Files {
			fp := fmt.Sprintf("%s.files[%d]", base, j)
			if f.Name == "" {
				add(SeverityError, fp+".name", "must not be empty")
			} else if roles[f.Name] {
				add(SeverityError, fp+".name", "duplicate input role %q", f.Name)
			}
			roles[f.Name] = true
			if f.Location == "" {
				add(SeverityError, fp+".location", "must not be empty")
			} else if strings.HasPrefix(f.Location, "s3://") && p.Source.Region == "" {
				add(SeverityWarning, "source.region", "empty region with s3 location %s", f.Location)
			}
			if !fileFormats[f.Format] {
				add(SeverityError, fp+".format", "unknown format %q (want csv, tsv, json or feather)", f.Format)
			}
		}

		for j, r := range d.Quality.Rules {
			validateRule(add, fmt.Sprintf("%s.quality.rules[%d]", base, j), r)
		}
	}
	return issues
}

func validateRule(add func(Severity, string, string, ...any), path string, r Rule) {
	if !ruleKinds[r.Kind] {
		add(SeverityError, path+".kind", "unknown rule %q", r.Kind)
		return
	}
	switch r.Kind {
	case "columns_present":
		if len(r.Columns) == 0 {
			add(SeverityError, path+".columns", "columns_present needs at least one column")
		}
	case "not_null", "unique":
		if r.Column == "" && len(r.Columns) == 0 {
			add(SeverityError, path+".column", "%s needs column or columns", r.Kind)
		}
	case "in_set":
		if r.Column == "" {
			add(SeverityError, path+".column", "in_set needs column")
		}
		if len(r.Values) == 0 {
			add(SeverityWarning, path+".values", "in_set with no values rejects every non-null cell")
		}
	case "between":
		if r.Column == "" {
			add(SeverityError, path+".column", "between needs column")
		}
		if r.Min == nil && r.Max == nil {
			add(SeverityError, path, "between needs min or max")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			add(SeverityError, path, "min %v greater than max %v", *r.Min, *r.Max)
		}
	}
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
