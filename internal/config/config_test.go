package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
job: agora-test
staging_path: /tmp/agora-staging
runtime:
  workers: 4
destination:
  kind: local
manifest:
  kind: sqlite
  dsn: ${AGORA_TEST_DIR}/manifest.db
datasets:
  - name: overall_scores
    transform: overall_scores
    files:
      - name: overall_scores
        location: ./data/scores.csv
        format: csv
        options:
          comma: ","
    column_rename:
      ensg: ensembl_gene_id
    quality:
      rules:
        - kind: not_null
          column: ensembl_gene_id
        - kind: between
          column: target_risk_score
          min: 0
          max: 5
  - name: team_info
    transform: team_info
    final_format: csv
    files:
      - name: team_info
        location: ./data/teams.csv
        format: csv
      - name: team_member_info
        location: ./data/members.json
        format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DecodesDatasetsAndDefaults(t *testing.T) {
	t.Setenv("AGORA_TEST_DIR", "/var/agora")
	p, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Job != "agora-test" || p.Runtime.Workers != 4 {
		t.Fatalf("unexpected header: %+v", p)
	}
	if p.Runtime.HTTPRetries != 3 || p.Manifest.Table != "artifact_manifest" || p.Source.Region != "us-east-1" {
		t.Fatalf("defaults not applied: runtime=%+v manifest=%+v source=%+v", p.Runtime, p.Manifest, p.Source)
	}
	if p.Manifest.DSN != "/var/agora/manifest.db" {
		t.Fatalf("expected expanded dsn, got %q", p.Manifest.DSN)
	}
	if len(p.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(p.Datasets))
	}
	d := p.Datasets[0]
	if d.FinalFormat != "json" {
		t.Fatalf("expected default final_format json, got %q", d.FinalFormat)
	}
	if got := d.Files[0].Options.Rune("comma", ';'); got != ',' {
		t.Fatalf("expected comma option, got %q", got)
	}
	if d.ColumnRename["ensg"] != "ensembl_gene_id" {
		t.Fatalf("column_rename not decoded: %v", d.ColumnRename)
	}
	if len(d.Quality.Rules) != 2 || d.Quality.Rules[1].Max == nil || *d.Quality.Rules[1].Max != 5 {
		t.Fatalf("quality rules not decoded: %+v", d.Quality.Rules)
	}
	if p.Datasets[1].FinalFormat != "csv" {
		t.Fatalf("expected csv, got %q", p.Datasets[1].FinalFormat)
	}
	if issues := Validate(p); HasErrors(issues) {
		t.Fatalf("expected valid config, got %v", issues)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AGORAETL_STAGING_PATH", "/env/staging")
	t.Setenv("AGORAETL_RUNTIME_WORKERS", "9")
	p, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.StagingPath != "/env/staging" {
		t.Fatalf("expected env staging path, got %q", p.StagingPath)
	}
	if p.Runtime.Workers != 9 {
		t.Fatalf("expected 9 workers, got %d", p.Runtime.Workers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate_ReportsPaths(t *testing.T) {
	t.Parallel()
	lo, hi := 5.0, 1.0
	p := &Pipeline{
		StagingPath: "/tmp/s",
		Runtime:     RuntimeConfig{Workers: 0},
		Destination: Destination{Kind: "s3"},
		Manifest:    Manifest{Kind: "oracle"},
		Datasets: []Dataset{
			{
				Name:      "a",
				Transform: "nope",
				Files:     []FileSpec{{Name: "x", Location: "x.csv", Format: "xlsx"}},
			},
			{
				Name:  "a",
				Files: []FileSpec{{Name: "x", Location: "", Format: "csv"}, {Name: "x", Location: "y", Format: "csv"}},
				Quality: Quality{Rules: []Rule{
					{Kind: "between", Column: "c", Min: &lo, Max: &hi},
					{Kind: "bogus"},
				}},
			},
		},
	}
	issues := Validate(p)
	want := []string{
		"runtime.workers",
		"destination.bucket",
		"manifest.kind",
		"datasets[0].transform",
		"datasets[0].files[0].format",
		"datasets[1].name",
		"datasets[1].files",
		"datasets[1].files[0].location",
		"datasets[1].files[1].name",
		"datasets[1].quality.rules[0]",
		"datasets[1].quality.rules[1].kind",
	}
	got := make(map[string]bool)
	for _, i := range issues {
		got[i.Path] = true
	}
	for _, w := range want {
		if !got[w] {
			t.Fatalf("expected issue at %s, got %v", w, issues)
		}
	}
	if !HasErrors(issues) {
		t.Fatalf("expected errors")
	}
}

func TestValidate_EmptyDatasetsIsWarning(t *testing.T) {
	t.Parallel()
	p := &Pipeline{StagingPath: "s", Runtime: RuntimeConfig{Workers: 1}, Destination: Destination{Kind: "local"}}
	issues := Validate(p)
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Fatalf("expected one warning, got %v", issues)
	}
	if HasErrors(issues) {
		t.Fatalf("warnings must not count as errors")
	}
}

func TestRender_RoundTripsNames(t *testing.T) {
	t.Parallel()
	p := &Pipeline{Job: "j", StagingPath: "s", Datasets: []Dataset{{Name: "gene_info", Transform: "gene_info"}}}
	b, err := Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(b)
	for _, want := range []string{"job: j", "staging_path: s", "name: gene_info", "transform: gene_info"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in:\n%s", want, s)
		}
	}
}

func TestOptions_Accessors(t *testing.T) {
	t.Parallel()
	o := Options{
		"has_header": "false",
		"workers":    float64(3),
		"comma":      "tab",
		"header_map": map[string]any{"Gene ID": "ensembl_gene_id", "n": 1},
	}
	if o.Bool("has_header", true) {
		t.Fatalf("expected has_header false")
	}
	if o.Int("workers", 0) != 3 {
		t.Fatalf("expected 3")
	}
	if o.Rune("comma", ',') != '\t' {
		t.Fatalf("expected tab")
	}
	m := o.StringMap("header_map")
	if len(m) != 1 || m["Gene ID"] != "ensembl_gene_id" {
		t.Fatalf("unexpected header_map %v", m)
	}
	var nilOpts Options
	if nilOpts.String("x", "d") != "d" {
		t.Fatalf("nil options must return default")
	}
}
