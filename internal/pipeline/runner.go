// Package pipeline runs the configured datasets: extract their inputs, apply
// the transform, check quality, stage the artifact and record it.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"agoraetl/internal/config"
	"agoraetl/internal/extract"
	"agoraetl/internal/metrics"
	"agoraetl/internal/storage"
	"agoraetl/internal/table"
)

// Logger is the logging surface used by the runner and passed down to the
// fetcher.
type Logger interface {
	Printf(format string, v ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// Publisher uploads a staged artifact and returns it with URI set.
type Publisher interface {
	Publish(ctx context.Context, a storage.Artifact) (storage.Artifact, error)
}

// Runner executes a pipeline. The function fields are seams; New fills
// them with the production implementations.
type Runner struct {
	Fetch       func(ctx context.Context, spec config.FileSpec) (*table.Table, error)
	NewManifest func(ctx context.Context, cfg storage.ManifestConfig) (storage.ManifestRepository, error)
	// Publisher is nil for local-only runs.
	Publisher Publisher
	Logger    Logger
	// Workers overrides runtime.workers when > 0.
	Workers  int
	NewRunID func() string
	Now      func() time.Time
}

// New builds a Runner for p. upload enables publishing to the S3
// destination, which must then be configured.
func New(p *config.Pipeline, logger Logger, upload bool) (*Runner, error) {
	if logger == nil {
		logger = discardLogger{}
	}
	fetcher, err := extract.New(p, logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	r := &Runner{
		Fetch:       fetcher.Fetch,
		NewManifest: storage.New,
		Logger:      logger,
		NewRunID:    uuid.NewString,
		Now:         time.Now,
	}
	if upload {
		if p.Destination.Kind != "s3" {
			return nil, fmt.Errorf("upload requires destination.kind=s3, got %q", p.Destination.Kind)
		}
		pub, err := storage.NewS3Publisher(p.Source.Region, p.Destination.Bucket, p.Destination.Prefix)
		if err != nil {
			return nil, err
		}
		r.Publisher = pub
	}
	return r, nil
}

func (r *Runner) logger() Logger {
	if r.Logger == nil {
		return discardLogger{}
	}
	return r.Logger
}

// Run processes every dataset on a bounded worker pool. A failed dataset
// never stops the others; the returned error combines one error per failed
// dataset plus any manifest failure. The report is complete either way.
func (r *Runner) Run(ctx context.Context, p *config.Pipeline) (*Report, error) {
	runID := uuid.NewString()
	if r.NewRunID != nil {
		runID = r.NewRunID()
	}
	writer, err := storage.NewWriter(p.StagingPath)
	if err != nil {
		return nil, err
	}
	if r.Now != nil {
		writer.Now = r.Now
	}

	start := time.Now()
	rep := &Report{RunID: runID, Datasets: make([]DatasetResult, len(p.Datasets))}

	workers := r.Workers
	if workers <= 0 {
		workers = p.Runtime.Workers
	}
	workers = max(1, min(workers, len(p.Datasets)))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rep.Datasets[i] = r.runDataset(ctx, runID, writer, p.Datasets[i])
			}
		}()
	}
	for i := range p.Datasets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var runErr error
	for _, d := range rep.Datasets {
		if d.Err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("dataset=%s: %w", d.Name, d.Err))
		}
	}

	if arts := rep.Artifacts(); len(arts) > 0 {
		path, err := storage.WriteManifestCSV(p.StagingPath, arts)
		if err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("manifest csv: %w", err))
		}
		rep.ManifestPath = path
		if p.Manifest.Kind != "" {
			n, err := r.recordManifest(ctx, p.Manifest, arts)
			if err != nil {
				runErr = multierr.Append(runErr, fmt.Errorf("manifest %s: %w", p.Manifest.Kind, err))
			}
			rep.ManifestRows = n
		}
	}

	rep.Duration = time.Since(start)
	r.logger().Printf("run=%s datasets=%d failed=%d duration=%s",
		runID, len(rep.Datasets), rep.Failed(), rep.Duration.Truncate(time.Millisecond))
	return rep, runErr
}

func (r *Runner) runDataset(ctx context.Context, runID string, w *storage.Writer, ds config.Dataset) DatasetResult {
	start := time.Now()
	res := DatasetResult{Name: ds.Name}

	if err := ctx.Err(); err != nil {
		res.Err = err
	} else {
		res.Err = r.processSafe(ctx, runID, w, ds, &res)
	}

	res.Duration = time.Since(start)
	res.Status = StatusOK
	if res.Err != nil {
		res.Status = StatusFailed
		r.logger().Printf("dataset=%s status=failed duration=%s err=%v", ds.Name, res.Duration.Truncate(time.Millisecond), res.Err)
	} else {
		r.logger().Printf("dataset=%s status=ok rows=%d duration=%s", ds.Name, res.Rows, res.Duration.Truncate(time.Millisecond))
	}
	metrics.RecordDataset(ds.Name, res.Status, res.Duration, res.Rows)
	return res
}

// processSafe runs process and turns a panic into the dataset's error so the
// remaining datasets still run.
func (r *Runner) processSafe(ctx context.Context, runID string, w *storage.Writer, ds config.Dataset, res *DatasetResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.process(ctx, runID, w, ds, res)
}

// recordManifest writes arts to the configured manifest table and logs the
// datasets whose content is unchanged since the previous recorded run.
func (r *Runner) recordManifest(ctx context.Context, m config.Manifest, arts []storage.Artifact) (int64, error) {
	newRepo := r.NewManifest
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.ManifestConfig{Kind: m.Kind, DSN: m.DSN, Table: m.Table})
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	if err := repo.EnsureTable(ctx); err != nil {
		return 0, err
	}
	for _, a := range arts {
		prev, ok, err := repo.Latest(ctx, a.Dataset)
		if err != nil {
			return 0, fmt.Errorf("latest %s: %w", a.Dataset, err)
		}
		if ok && prev.Version == a.Version {
			r.logger().Printf("dataset=%s unchanged version=%.12s since run=%s", a.Dataset, a.Version, prev.RunID)
		}
	}
	return repo.Record(ctx, arts)
}
