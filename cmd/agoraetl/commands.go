package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"agoraetl/internal/config"
	"agoraetl/internal/metrics"
	"agoraetl/internal/metrics/datadog"
	"agoraetl/internal/pipeline"
)

// backendCloser is a metrics backend the command has to close.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are the external seams of the command; tests swap outputs and the
// metrics backend factory.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string) (backendCloser, error)
	// NewRunner defaults to pipeline.New.
	NewRunner func(p *config.Pipeline, logger pipeline.Logger, upload bool) (*pipeline.Runner, error)
}

func newRootCmd(d deps) *cobra.Command {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.NewRunner == nil {
		d.NewRunner = pipeline.New
	}

	var (
		cfgPath string
		verbose bool
	)
	root := &cobra.Command{
		Use:           "agoraetl",
		Short:         "Build and publish the knowledge-portal datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(d.Stdout)
	root.SetErr(d.Stderr)
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "pipeline config file (YAML or JSON)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logs")

	root.AddCommand(newProcessCmd(d, &cfgPath, &verbose), newCheckCmd(d, &cfgPath), newProbeCmd(d))
	return root
}

// loadAndValidate loads cfgPath and prints every issue to stderr. It fails
// when any issue is an error.
func loadAndValidate(d deps, cfgPath string) (*config.Pipeline, error) {
	if cfgPath == "" {
		fmt.Fprintln(d.Stderr, "missing --config")
		return nil, errors.New("missing --config")
	}
	p, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "error: %v\n", err)
		return nil, err
	}
	issues := config.Validate(p)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		err := fmt.Errorf("configuration is invalid: %s", cfgPath)
		fmt.Fprintln(d.Stderr, err)
		return nil, err
	}
	return p, nil
}

func newCheckCmd(d deps, cfgPath *string) *cobra.Command {
	var printCfg bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the pipeline configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadAndValidate(d, *cfgPath)
			if err != nil {
				return err
			}
			if printCfg {
				b, err := config.Render(p)
				if err != nil {
					return err
				}
				_, _ = d.Stdout.Write(b)
			}
			fmt.Fprintf(d.Stderr, "configuration is valid: %s\n", *cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printCfg, "print", false, "print the effective configuration as YAML")
	return cmd
}

func newProcessCmd(d deps, cfgPath *string, verbose *bool) *cobra.Command {
	var (
		upload         bool
		metricsBackend string
		workers        int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract, transform and stage every configured dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadAndValidate(d, *cfgPath)
			if err != nil {
				return err
			}

			logger := log.New(io.Discard, "", 0)
			if *verbose {
				logger = log.New(d.Stderr, "", log.LstdFlags)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			backendName := metricsBackend
			if !cmd.Flags().Changed("metrics-backend") {
				if env := os.Getenv("METRICS_BACKEND"); env != "" {
					backendName = env
				}
			}
			closeMetrics := setupMetrics(ctx, d, backendName, p.Job, logger)
			defer closeMetrics()

			runner, err := d.NewRunner(p, logger, upload)
			if err != nil {
				fmt.Fprintf(d.Stderr, "error: %v\n", err)
				return err
			}
			if workers > 0 {
				runner.Workers = workers
			}

			start := time.Now()
			if *verbose {
				logger.Printf("pipeline: job=%s datasets=%d staging=%s upload=%v manifest=%s",
					p.Job, len(p.Datasets), p.StagingPath, upload, p.Manifest.Kind)
			}
			rep, runErr := runner.Run(ctx, p)
			if rep != nil {
				rep.Print(d.Stdout)
			}
			if runErr != nil {
				for _, e := range multierr.Errors(runErr) {
					fmt.Fprintf(d.Stderr, "error: %v\n", e)
				}
				if rep != nil && rep.Failed() > 0 {
					return fmt.Errorf("%d of %d datasets failed", rep.Failed(), len(rep.Datasets))
				}
				return runErr
			}
			if *verbose {
				logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "publish staged artifacts to the S3 destination")
	cmd.Flags().StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend: none or datadog (env METRICS_BACKEND)")
	cmd.Flags().IntVar(&workers, "workers", 0, "datasets processed concurrently (overrides runtime.workers)")
	return cmd
}

// setupMetrics installs the named backend and returns its shutdown func.
// Initialization failures fall back to the nop backend.
func setupMetrics(ctx context.Context, d deps, name, job string, logger *log.Logger) func() {
	switch name {
	case "datadog":
		if d.BackendFactory == nil {
			logger.Printf("metrics: no datadog factory; metrics disabled")
			return func() {}
		}
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := d.BackendFactory(ctx, job, tags)
		if err != nil {
			fmt.Fprintf(d.Stderr, "metrics: failed to init datadog backend: %v; using nop\n", err)
			return func() {}
		}
		logger.Printf("metrics: backend=datadog job_name=%s tags=%v", job, tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(d.Stderr, "metrics: datadog close/flush error: %v\n", err)
			}
			metrics.SetBackend(nil)
		}
	case "", "none":
		logger.Printf("metrics: disabled")
		return func() {}
	default:
		fmt.Fprintf(d.Stderr, "metrics: unknown backend %q; metrics disabled\n", name)
		return func() {}
	}
}
