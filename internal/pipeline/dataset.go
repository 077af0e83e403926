package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agoraetl/internal/clean"
	"agoraetl/internal/config"
	"agoraetl/internal/quality"
	"agoraetl/internal/standardize"
	"agoraetl/internal/storage"
	"agoraetl/internal/table"
	"agoraetl/internal/transform"
)

// process runs the stages of one dataset and fills res as it goes:
// extract, transform, rename, strip markup, quality, stage, publish.
func (r *Runner) process(ctx context.Context, runID string, w *storage.Writer, ds config.Dataset, res *DatasetResult) error {
	stage := func(name string, start time.Time) {
		r.logger().Printf("dataset=%s stage=%s duration=%s", ds.Name, name, time.Since(start).Truncate(time.Millisecond))
	}

	start := time.Now()
	inputs := make(transform.Inputs, len(ds.Files))
	for _, fs := range ds.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := r.Fetch(ctx, fs)
		if err != nil {
			return err
		}
		inputs[fs.Name] = t
	}
	stage("extract", start)

	start = time.Now()
	out, err := apply(inputs, ds)
	if err != nil {
		return err
	}
	stage("transform", start)

	if len(ds.ColumnRename) > 0 {
		out = rename(out, ds.ColumnRename)
	}
	if len(ds.HTMLColumns) > 0 {
		if out.Table == nil {
			return fmt.Errorf("html_columns: %s does not produce a table", ds.Name)
		}
		if out.Table, err = standardize.StripMarkup(out.Table, ds.HTMLColumns...); err != nil {
			return fmt.Errorf("html_columns: %w", err)
		}
	}
	res.Rows = out.Rows()

	if len(ds.Quality.Rules) > 0 {
		start = time.Now()
		qr := quality.Evaluate(ds.Name, tableView(out), ds.Quality.Rules)
		res.Quality = &qr
		qa, err := w.WriteJSON(ds.Name+"_quality", qr, len(qr.Checks))
		if err != nil {
			return fmt.Errorf("quality report: %w", err)
		}
		qa.RunID = runID
		res.QualityArtifact = &qa
		stage("quality", start)
		if !qr.Passed {
			return errors.New(qr.Error())
		}
	}

	start = time.Now()
	a, err := write(w, ds, out)
	if err != nil {
		return err
	}
	a.RunID = runID
	stage("write", start)

	if r.Publisher != nil {
		start = time.Now()
		if a, err = r.Publisher.Publish(ctx, a); err != nil {
			return err
		}
		if res.QualityArtifact != nil {
			qa, err := r.Publisher.Publish(ctx, *res.QualityArtifact)
			if err != nil {
				return err
			}
			res.QualityArtifact = &qa
		}
		stage("publish", start)
	}
	res.Artifact = &a
	return nil
}

// apply runs the configured transform, or passes the single input through.
func apply(inputs transform.Inputs, ds config.Dataset) (transform.Result, error) {
	if ds.Transform != "" {
		return transform.Apply(inputs, ds.Transform, transform.Params(ds.Params))
	}
	if len(inputs) != 1 {
		return transform.Result{}, &transform.ConfigurationError{Msg: fmt.Sprintf("dataset %s has %d inputs and no transform", ds.Name, len(inputs))}
	}
	for _, t := range inputs {
		return transform.Result{Table: t}, nil
	}
	return transform.Result{}, nil
}

// rename applies column_rename to whichever shape out holds. Keys match
// exactly or case-insensitively, since config loading lowercases map keys.
// Nested records are left alone.
func rename(out transform.Result, m map[string]string) transform.Result {
	switch {
	case out.Table != nil:
		exact := make(map[string]string)
		for _, c := range out.Table.Columns() {
			if to, ok := renameTarget(m, c); ok {
				exact[c] = to
			}
		}
		out.Table = out.Table.Rename(exact)
	case out.Object != nil:
		out.Object = renameFields(out.Object, m)
	default:
		recs := make([]table.Record, len(out.Records))
		for i, rec := range out.Records {
			recs[i] = renameFields(rec, m)
		}
		out.Records = recs
	}
	return out
}

func renameFields(rec table.Record, m map[string]string) table.Record {
	out := make(table.Record, len(rec))
	for i, f := range rec {
		if to, ok := renameTarget(m, f.Name); ok {
			f.Name = to
		}
		out[i] = f
	}
	return out
}

func renameTarget(m map[string]string, name string) (string, bool) {
	to, ok := m[name]
	if !ok {
		to, ok = m[strings.ToLower(name)]
	}
	return to, ok && to != ""
}

// tableView presents any result shape as a table for quality checks. A
// single object becomes one row.
func tableView(out transform.Result) *table.Table {
	switch {
	case out.Table != nil:
		return out.Table
	case out.Object != nil:
		return table.FromRecords([]table.Record{out.Object})
	default:
		return table.FromRecords(out.Records)
	}
}

// write cleans and stages out in the dataset's final format.
func write(w *storage.Writer, ds config.Dataset, out transform.Result) (storage.Artifact, error) {
	if ds.FinalFormat == "csv" {
		return w.WriteCSV(ds.Name, tableView(out))
	}
	var v any
	switch {
	case out.Table != nil:
		v = clean.Records(out.Table)
	case out.Object != nil:
		v = clean.Record(out.Object)
	default:
		v = clean.Value(out.Records)
	}
	return w.WriteJSON(ds.Name, v, out.Rows())
}
