package pipeline

import (
	"fmt"
	"io"
	"time"

	"agoraetl/internal/quality"
	"agoraetl/internal/storage"
)

// Dataset statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// DatasetResult is the outcome of one dataset.
type DatasetResult struct {
	Name     string
	Status   string
	Rows     int
	Duration time.Duration
	// Artifact is nil when the dataset failed before it was staged.
	Artifact *storage.Artifact
	Quality  *quality.Report
	// QualityArtifact is the staged quality report, if rules were configured.
	QualityArtifact *storage.Artifact
	Err             error
}

// Report summarizes a run.
type Report struct {
	RunID        string
	Datasets     []DatasetResult
	ManifestPath string
	ManifestRows int64
	Duration     time.Duration
}

// Failed returns the number of failed datasets.
func (r *Report) Failed() int {
	n := 0
	for _, d := range r.Datasets {
		if d.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Artifacts returns every staged artifact in dataset order. Quality reports
// are included, also for datasets that failed their checks.
func (r *Report) Artifacts() []storage.Artifact {
	var out []storage.Artifact
	for _, d := range r.Datasets {
		if d.Artifact != nil {
			out = append(out, *d.Artifact)
		}
		if d.QualityArtifact != nil {
			out = append(out, *d.QualityArtifact)
		}
	}
	return out
}

// Print writes a one-line-per-dataset summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s: %d datasets, %d failed, %s\n",
		r.RunID, len(r.Datasets), r.Failed(), r.Duration.Truncate(time.Millisecond))
	for _, d := range r.Datasets {
		switch {
		case d.Err != nil:
			fmt.Fprintf(w, "  %-36s %-6s %v\n", d.Name, d.Status, d.Err)
		case d.Artifact != nil && d.Artifact.URI != "":
			fmt.Fprintf(w, "  %-36s %-6s rows=%d %s\n", d.Name, d.Status, d.Rows, d.Artifact.URI)
		case d.Artifact != nil:
			fmt.Fprintf(w, "  %-36s %-6s rows=%d %s\n", d.Name, d.Status, d.Rows, d.Artifact.Path)
		default:
			fmt.Fprintf(w, "  %-36s %-6s\n", d.Name, d.Status)
		}
	}
	if r.ManifestPath != "" {
		fmt.Fprintf(w, "manifest: %s\n", r.ManifestPath)
	}
}
