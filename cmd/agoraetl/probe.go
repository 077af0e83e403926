package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"agoraetl/internal/config"
	"agoraetl/internal/extract"
	"agoraetl/internal/probe"
	"agoraetl/internal/standardize"
)

// newProbeCmd samples one input and prints a starter pipeline config for it,
// or a column profile with --report.
func newProbeCmd(d deps) *cobra.Command {
	var (
		spec   config.FileSpec
		name   string
		region string
		rows   int
		report bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample an input file and draft a dataset config for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(spec.Location) == "" {
				fmt.Fprintln(d.Stderr, "missing --location")
				return errors.New("missing --location")
			}
			if name == "" {
				name = standardize.ColumnName(baseName(spec.Location))
			}
			if spec.Name == "" {
				spec.Name = name
			}

			p := &config.Pipeline{
				Job:         name,
				StagingPath: "./staging",
				Runtime:     config.RuntimeConfig{Workers: 1, HTTPTimeoutSec: 60, HTTPRetries: 3},
				Source:      config.Source{Region: region},
				Destination: config.Destination{Kind: "local"},
				Datasets:    []config.Dataset{{Name: name, Files: []config.FileSpec{spec}}},
			}

			var logger extract.Logger
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				logger = log.New(d.Stderr, "", log.LstdFlags)
			}
			f, err := extract.New(p, logger)
			if err != nil {
				fmt.Fprintf(d.Stderr, "error: %v\n", err)
				return err
			}
			t, err := f.Fetch(cmd.Context(), spec)
			if err != nil {
				fmt.Fprintf(d.Stderr, "error: %v\n", err)
				return err
			}

			prof := probe.Sample(t, rows)
			if report {
				fmt.Fprintln(d.Stdout, prof.Report())
				return nil
			}
			p.Datasets[0] = probe.Draft(name, spec, prof)
			b, err := config.Render(p)
			if err != nil {
				return err
			}
			_, _ = d.Stdout.Write(b)
			return nil
		},
	}
	cmd.Flags().StringVar(&spec.Location, "location", "", "path, file://, http(s):// or s3:// location of the input")
	cmd.Flags().StringVar(&spec.Format, "format", "csv", "input format: csv, tsv, json or feather")
	cmd.Flags().StringVar(&spec.Name, "role", "", "input role name (defaults to the dataset name)")
	cmd.Flags().StringVar(&name, "name", "", "dataset name (defaults to the normalized file name)")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region for s3:// locations")
	cmd.Flags().IntVar(&rows, "rows", probe.DefaultMaxRows, "rows to profile")
	cmd.Flags().BoolVar(&report, "report", false, "print a column profile instead of a config")
	return cmd
}

// baseName is the last path element of loc without its extension.
func baseName(loc string) string {
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	loc = strings.TrimRight(loc, "/")
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		loc = loc[i+1:]
	}
	if i := strings.Index(loc, "."); i > 0 {
		loc = loc[:i]
	}
	return loc
}
