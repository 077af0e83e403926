package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"agoraetl/internal/metrics"
)

type fakeBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	closed   bool
}

func (f *fakeBackend) IncCounter(name string, delta float64, _ metrics.Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters == nil {
		f.counters = make(map[string]float64)
	}
	f.counters[name] += delta
}

func (f *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (f *fakeBackend) Flush() error                                     { return nil }
func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// localPipeline writes a one-dataset config reading a local CSV.
func localPipeline(t *testing.T) (cfgPath, staging string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "teams.csv")
	writeFile(t, src, "team,program\nAlpha,AMP-AD\nBeta,M2OVE-AD\n")
	staging = filepath.Join(dir, "staging")
	cfgPath = filepath.Join(dir, "pipeline.yaml")
	writeFile(t, cfgPath, `job: agora-test
staging_path: `+staging+`
runtime:
  workers: 2
destination:
  kind: local
datasets:
  - name: team_info
    files:
      - name: teams
        location: `+src+`
        format: csv
    quality:
      rules:
        - kind: not_null
          columns: [team]
`)
	return cfgPath, staging
}

func execute(t *testing.T, d deps, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	d.Stdout = &out
	d.Stderr = &errOut
	cmd := newRootCmd(d)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestCheck_ValidConfigPrintsYAML(t *testing.T) {
	cfg, _ := localPipeline(t)
	stdout, stderr, err := execute(t, deps{}, "check", "--config", cfg, "--print")
	if err != nil {
		t.Fatalf("check: %v (stderr=%s)", err, stderr)
	}
	if !strings.Contains(stdout, "job: agora-test") || !strings.Contains(stdout, "team_info") {
		t.Fatalf("rendered config missing fields:\n%s", stdout)
	}
	if !strings.Contains(stderr, "configuration is valid") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestCheck_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "bad.yaml")
	writeFile(t, cfg, `staging_path: `+filepath.Join(dir, "s")+`
destination:
  kind: ftp
datasets:
  - name: x
    files:
      - name: a
        location: a.csv
        format: xlsx
`)
	stdout, stderr, err := execute(t, deps{}, "check", "--config", cfg)
	if err == nil {
		t.Fatalf("expected error")
	}
	if stdout != "" {
		t.Fatalf("stdout=%q want empty", stdout)
	}
	for _, want := range []string{
		`error: destination.kind: unknown kind "ftp"`,
		`error: datasets[0].files[0].format: unknown format "xlsx"`,
	} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestCheck_MissingConfigFile(t *testing.T) {
	_, stderr, err := execute(t, deps{}, "check", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(stderr, "read config") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestProcess_LocalDataset(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")
	cfg, staging := localPipeline(t)

	stdout, stderr, err := execute(t, deps{}, "process", "--config", cfg, "-v")
	if err != nil {
		t.Fatalf("process: %v (stderr=%s)", err, stderr)
	}
	if !strings.Contains(stdout, "1 datasets, 0 failed") {
		t.Fatalf("stdout=%q", stdout)
	}
	for _, name := range []string{"team_info.json", "team_info_quality.json", "manifest.csv"} {
		if _, err := os.Stat(filepath.Join(staging, name)); err != nil {
			t.Fatalf("missing staged file %s: %v", name, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(staging, "team_info.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"program":"M2OVE-AD"`) {
		t.Fatalf("staged json=%s", b)
	}
	if !strings.Contains(stderr, "dataset=team_info status=ok rows=2") {
		t.Fatalf("verbose log missing dataset status:\n%s", stderr)
	}
}

func TestProcess_UploadRequiresS3Destination(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")
	cfg, _ := localPipeline(t)
	_, stderr, err := execute(t, deps{}, "process", "--config", cfg, "--upload")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(stderr, "error:") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestProcess_DatadogBackendFromEnv(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "datadog")
	t.Setenv("METRICS_TAGS", "env:test")
	cfg, _ := localPipeline(t)

	fb := &fakeBackend{}
	var gotJob string
	var gotTags []string
	d := deps{BackendFactory: func(_ context.Context, job string, tags []string) (backendCloser, error) {
		gotJob, gotTags = job, tags
		return fb, nil
	}}
	if _, stderr, err := execute(t, d, "process", "--config", cfg); err != nil {
		t.Fatalf("process: %v (stderr=%s)", err, stderr)
	}
	if gotJob != "agora-test" {
		t.Fatalf("job=%q want agora-test", gotJob)
	}
	if len(gotTags) != 1 || gotTags[0] != "env:test" {
		t.Fatalf("tags=%v", gotTags)
	}
	if !fb.closed {
		t.Fatalf("backend was not closed")
	}
	if got := fb.counters[metrics.DatasetTotal]; got != 1 {
		t.Fatalf("%s=%v want 1", metrics.DatasetTotal, got)
	}
}

func TestProcess_DatadogInitFailureFallsBack(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")
	cfg, _ := localPipeline(t)
	d := deps{BackendFactory: func(context.Context, string, []string) (backendCloser, error) {
		return nil, errors.New("no api key")
	}}
	_, stderr, err := execute(t, d, "process", "--config", cfg, "--metrics-backend", "datadog")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(stderr, "failed to init datadog backend: no api key") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestProbe_DraftsConfig(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Team Info.csv")
	writeFile(t, src, "Team,Program\nAlpha,AMP-AD\nBeta,AMP-AD\nGamma,AMP-AD\n")

	stdout, stderr, err := execute(t, deps{}, "probe", "--location", src)
	if err != nil {
		t.Fatalf("probe: %v (stderr=%s)", err, stderr)
	}
	for _, want := range []string{"job: team_info", "name: team_info", "kind: unique", "column: team", "kind: in_set"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("draft missing %q:\n%s", want, stdout)
		}
	}

	// the drafted config loads and validates.
	cfg := filepath.Join(dir, "drafted.yaml")
	writeFile(t, cfg, stdout)
	if _, stderr, err := execute(t, deps{}, "check", "--config", cfg); err != nil {
		t.Fatalf("check drafted config: %v (stderr=%s)", err, stderr)
	}
}

func TestProbe_Report(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "genes.csv")
	writeFile(t, src, "gene,score\nA,1\nB,2\n")

	stdout, _, err := execute(t, deps{}, "probe", "--location", src, "--report")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.HasPrefix(stdout, "profile:\tsampled_rows=2") {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestProbe_MissingLocation(t *testing.T) {
	if _, _, err := execute(t, deps{}, "probe"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBaseName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"./data/gene_metadata.feather":           "gene_metadata",
		"s3://bucket/raw/team_info.csv":          "team_info",
		"https://host/x/proteomics.csv?raw=true": "proteomics",
		"file:///tmp/rna.tsv":                    "rna",
	}
	for in, want := range tests {
		if got := baseName(in); got != want {
			t.Fatalf("baseName(%q)=%q want %q", in, got, want)
		}
	}
}
