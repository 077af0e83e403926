package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"

	"agoraetl/internal/config"
	"agoraetl/internal/storage"
	"agoraetl/internal/table"
	"agoraetl/internal/transform"
)

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type fakeManifestRepo struct {
	mu       sync.Mutex
	ensured  bool
	recorded []storage.Artifact
	latest   map[string]storage.Artifact
	closed   int
}

func (f *fakeManifestRepo) Close() { f.closed++ }
func (f *fakeManifestRepo) EnsureTable(context.Context) error {
	f.ensured = true
	return nil
}
func (f *fakeManifestRepo) Record(_ context.Context, a []storage.Artifact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, a...)
	return int64(len(a)), nil
}
func (f *fakeManifestRepo) Latest(_ context.Context, dataset string) (storage.Artifact, bool, error) {
	a, ok := f.latest[dataset]
	return a, ok, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	paths []string
}

func (p *fakePublisher) Publish(_ context.Context, a storage.Artifact) (storage.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, filepath.Base(a.Path))
	a.URI = "s3://agora/" + filepath.Base(a.Path)
	return a, nil
}

func mustTable(t *testing.T, cols []string, rows [][]any) *table.Table {
	t.Helper()
	tbl, err := table.FromRows(cols, rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	return tbl
}

func fakeFetch(t *testing.T) func(context.Context, config.FileSpec) (*table.Table, error) {
	biodomains := mustTable(t, []string{"ensembl_gene_id", "biodomain", "go_terms"}, [][]any{
		{"E1", "Immune Response", "GO:1"},
		{"E2", "Immune Response", "GO:2"},
		{"E3", "Synapse", "GO:3"},
		{"E4", nil, "GO:4"},
	})
	teams := mustTable(t, []string{"team", "description"}, [][]any{
		{"Emory", "<p>Hi <b>there</b></p>"},
	})
	return func(_ context.Context, fs config.FileSpec) (*table.Table, error) {
		switch fs.Location {
		case "mem://biodomains":
			return biodomains, nil
		case "mem://teams":
			return teams, nil
		default:
			return nil, fmt.Errorf("extract %s: not found", fs.Name)
		}
	}
}

func samplePipeline(dir string) *config.Pipeline {
	return &config.Pipeline{
		Job:         "agora",
		StagingPath: dir,
		Runtime:     config.RuntimeConfig{Workers: 2},
		Manifest:    config.Manifest{Kind: "fake"},
		Datasets: []config.Dataset{
			{
				Name:        "biodomain_info",
				Files:       []config.FileSpec{{Name: "genes_biodomains", Location: "mem://biodomains", Format: "csv"}},
				Transform:   "biodomain_info",
				FinalFormat: "json",
				Quality:     config.Quality{Rules: []config.Rule{{Kind: "unique", Column: "name"}}},
			},
			{
				Name:         "team_info",
				Files:        []config.FileSpec{{Name: "teams", Location: "mem://teams", Format: "csv"}},
				ColumnRename: map[string]string{"team": "program"},
				HTMLColumns:  []string{"description"},
				FinalFormat:  "csv",
			},
			{
				Name:        "broken",
				Files:       []config.FileSpec{{Name: "missing", Location: "mem://missing", Format: "csv"}},
				FinalFormat: "json",
			},
			{
				Name:        "bad_quality",
				Files:       []config.FileSpec{{Name: "genes_biodomains", Location: "mem://biodomains", Format: "csv"}},
				FinalFormat: "json",
				Quality:     config.Quality{Rules: []config.Rule{{Kind: "not_null", Column: "biodomain"}}},
			},
		},
	}
}

func TestRunner_Run_MixedOutcomes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo := &fakeManifestRepo{latest: map[string]storage.Artifact{}}
	pub := &fakePublisher{}
	log := &fakeLogger{}
	var gotCfg storage.ManifestConfig

	r := &Runner{
		Fetch: fakeFetch(t),
		NewManifest: func(_ context.Context, cfg storage.ManifestConfig) (storage.ManifestRepository, error) {
			gotCfg = cfg
			return repo, nil
		},
		Publisher: pub,
		Logger:    log,
		NewRunID:  func() string { return "run-1" },
		Now:       func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) },
	}

	rep, err := r.Run(context.Background(), samplePipeline(dir))
	if err == nil {
		t.Fatalf("expected run error")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("errors got=%d want=2: %v", n, err)
	}
	if !strings.Contains(err.Error(), "dataset=broken:") || !strings.Contains(err.Error(), "dataset=bad_quality: quality checks failed") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if rep.Failed() != 2 || rep.RunID != "run-1" {
		t.Fatalf("report failed=%d run=%s", rep.Failed(), rep.RunID)
	}

	bio := rep.Datasets[0]
	if bio.Status != StatusOK || bio.Rows != 2 || bio.Artifact == nil || bio.Artifact.URI != "s3://agora/biodomain_info.json" {
		t.Fatalf("biodomain_info result: %+v", bio)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "biodomain_info.json"))
	if string(b) != `[{"name":"Immune Response"},{"name":"Synapse"}]` {
		t.Fatalf("biodomain_info.json got=%s", b)
	}

	b, _ = os.ReadFile(filepath.Join(dir, "team_info.csv"))
	if string(b) != "program,description\nEmory,Hi there\n" {
		t.Fatalf("team_info.csv got=%q", b)
	}

	bad := rep.Datasets[3]
	if bad.Artifact != nil || bad.QualityArtifact == nil || bad.Quality == nil || bad.Quality.Passed {
		t.Fatalf("bad_quality result: %+v", bad)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad_quality_quality.json")); err != nil {
		t.Fatalf("quality report not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad_quality.json")); !os.IsNotExist(err) {
		t.Fatalf("failed dataset must not be staged, stat err=%v", err)
	}

	// biodomain_info, its quality report, team_info and bad_quality's report.
	if len(repo.recorded) != 4 || !repo.ensured || repo.closed != 1 || rep.ManifestRows != 4 {
		t.Fatalf("manifest recorded=%d ensured=%v closed=%d rows=%d", len(repo.recorded), repo.ensured, repo.closed, rep.ManifestRows)
	}
	for _, a := range repo.recorded {
		if a.RunID != "run-1" {
			t.Fatalf("artifact without run id: %+v", a)
		}
	}
	if gotCfg.Kind != "fake" {
		t.Fatalf("manifest cfg got=%+v", gotCfg)
	}
	if len(pub.paths) != 3 {
		t.Fatalf("published got=%v", pub.paths)
	}
	if rep.ManifestPath != filepath.Join(dir, storage.ManifestFile) {
		t.Fatalf("manifest path got=%s", rep.ManifestPath)
	}
	if !log.contains("dataset=team_info stage=write") {
		t.Fatalf("missing stage log: %v", log.msgs)
	}
}

func TestRunner_Run_LogsUnchangedVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := samplePipeline(dir)
	p.Datasets = p.Datasets[1:2]

	// First run to learn the version of team_info.csv.
	first := &fakeManifestRepo{latest: map[string]storage.Artifact{}}
	r := &Runner{
		Fetch:       fakeFetch(t),
		NewManifest: func(context.Context, storage.ManifestConfig) (storage.ManifestRepository, error) { return first, nil },
	}
	if _, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("first run: %v", err)
	}
	prev := first.recorded[0]
	prev.RunID = "older"

	log := &fakeLogger{}
	second := &fakeManifestRepo{latest: map[string]storage.Artifact{"team_info": prev}}
	r.NewManifest = func(context.Context, storage.ManifestConfig) (storage.ManifestRepository, error) { return second, nil }
	r.Logger = log
	if _, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !log.contains("dataset=team_info unchanged") || !log.contains("since run=older") {
		t.Fatalf("expected unchanged log, got %v", log.msgs)
	}
}

func TestRunner_Run_ManifestFailureKeepsDatasets(t *testing.T) {
	t.Parallel()

	p := samplePipeline(t.TempDir())
	p.Datasets = p.Datasets[:1]
	r := &Runner{
		Fetch: fakeFetch(t),
		NewManifest: func(context.Context, storage.ManifestConfig) (storage.ManifestRepository, error) {
			return nil, errors.New("connection refused")
		},
	}
	rep, err := r.Run(context.Background(), p)
	if err == nil || !strings.Contains(err.Error(), "manifest fake: connection refused") {
		t.Fatalf("err got=%v", err)
	}
	if rep.Failed() != 0 || rep.Datasets[0].Artifact == nil {
		t.Fatalf("dataset should still succeed: %+v", rep.Datasets[0])
	}
}

func TestRunner_Run_CanceledContext(t *testing.T) {
	t.Parallel()

	p := samplePipeline(t.TempDir())
	p.Manifest.Kind = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Fetch: fakeFetch(t), Workers: 1}
	rep, err := r.Run(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err got=%v want context.Canceled", err)
	}
	if rep.Failed() != len(p.Datasets) || rep.ManifestPath != "" {
		t.Fatalf("failed=%d manifest=%q", rep.Failed(), rep.ManifestPath)
	}
}

func TestRunner_Run_PanicFailsOnlyItsDataset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := samplePipeline(dir)
	p.Manifest.Kind = ""
	p.Datasets = p.Datasets[:2]
	p.Datasets[0].Files = []config.FileSpec{{Name: "boom", Location: "mem://boom", Format: "csv"}}

	fetch := fakeFetch(t)
	log := &fakeLogger{}
	r := &Runner{
		Fetch: func(ctx context.Context, fs config.FileSpec) (*table.Table, error) {
			if fs.Location == "mem://boom" {
				panic("index out of range")
			}
			return fetch(ctx, fs)
		},
		Logger: log,
	}
	rep, err := r.Run(context.Background(), p)
	if err == nil || !strings.Contains(err.Error(), "dataset=biodomain_info: panic: index out of range") {
		t.Fatalf("err got=%v", err)
	}
	if rep.Failed() != 1 || rep.Datasets[0].Status != StatusFailed {
		t.Fatalf("failed=%d first=%+v", rep.Failed(), rep.Datasets[0])
	}
	if rep.Datasets[1].Status != StatusOK || rep.Datasets[1].Artifact == nil {
		t.Fatalf("team_info result: %+v", rep.Datasets[1])
	}
	if _, err := os.Stat(filepath.Join(dir, "team_info.csv")); err != nil {
		t.Fatalf("team_info not staged: %v", err)
	}
	if !log.contains("dataset=biodomain_info status=failed") {
		t.Fatalf("missing failure log: %v", log.msgs)
	}
}

func TestApply_PassThroughNeedsSingleInput(t *testing.T) {
	t.Parallel()

	one := transform.Inputs{"a": table.New("x")}
	res, err := apply(one, config.Dataset{Name: "d"})
	if err != nil || res.Table == nil {
		t.Fatalf("pass-through got=%+v err=%v", res, err)
	}

	two := transform.Inputs{"a": table.New("x"), "b": table.New("y")}
	_, err = apply(two, config.Dataset{Name: "d"})
	var cfgErr *transform.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err got=%v want ConfigurationError", err)
	}

	_, err = apply(one, config.Dataset{Name: "d", Transform: "nope"})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("unknown transform err got=%v", err)
	}
}

func TestRename_AllShapes(t *testing.T) {
	t.Parallel()

	m := map[string]string{"hgnc_symbol": "symbol", "teamname": "team"}

	tbl := rename(transform.Result{Table: table.New("hgnc_symbol", "x")}, m)
	if got := strings.Join(tbl.Table.Columns(), ","); got != "symbol,x" {
		t.Fatalf("table columns got=%s", got)
	}

	obj := rename(transform.Result{Object: table.Record{{Name: "TeamName", Value: "a"}}}, m)
	if obj.Object[0].Name != "team" {
		t.Fatalf("object field got=%s", obj.Object[0].Name)
	}

	recs := rename(transform.Result{Records: []table.Record{{{Name: "hgnc_symbol", Value: "APOE"}}}}, m)
	if recs.Records[0][0].Name != "symbol" {
		t.Fatalf("record field got=%s", recs.Records[0][0].Name)
	}
}

func TestReport_Print(t *testing.T) {
	t.Parallel()

	rep := &Report{
		RunID: "r",
		Datasets: []DatasetResult{
			{Name: "gene_info", Status: StatusOK, Rows: 3, Artifact: &storage.Artifact{Path: "/s/gene_info.json"}},
			{Name: "team_info", Status: StatusFailed, Err: errors.New("boom")},
		},
		ManifestPath: "/s/manifest.csv",
	}
	var buf bytes.Buffer
	rep.Print(&buf)
	out := buf.String()
	for _, want := range []string{"run r: 2 datasets, 1 failed", "rows=3 /s/gene_info.json", "boom", "manifest: /s/manifest.csv"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
