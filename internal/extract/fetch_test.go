package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"

	"agoraetl/internal/config"
)

func noSleep(context.Context, time.Duration) bool { return true }

func TestFetch_LocalCSVIsStandardized(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scores.csv")
	body := "ENSG,Target Risk Score,isScored_genetics\nE1,n/a,Y\nE2,2.5,N\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := &Fetcher{}
	got, err := f.Fetch(context.Background(), config.FileSpec{Name: "overall_scores", Location: "file://" + path, Format: "csv"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := "ensg,target_risk_score,isscored_genetics"
	if cols := strings.Join(got.Columns(), ","); cols != want {
		t.Fatalf("columns got=%s want=%s", cols, want)
	}
	if got.Value(0, "target_risk_score") != nil {
		t.Fatalf("n/a must be nil, got %#v", got.Value(0, "target_risk_score"))
	}
	if got.Value(1, "target_risk_score") != 2.5 {
		t.Fatalf("got=%#v want 2.5", got.Value(1, "target_risk_score"))
	}
}

func TestFetch_MissingFileNamesRole(t *testing.T) {
	t.Parallel()
	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), config.FileSpec{Name: "team_info", Location: filepath.Join(t.TempDir(), "nope.csv"), Format: "csv"})
	if err == nil || !strings.Contains(err.Error(), "extract team_info") {
		t.Fatalf("expected wrapped error naming the role, got %v", err)
	}
}

func TestDecode_TSVDefaultsToTab(t *testing.T) {
	t.Parallel()
	got, err := Decode(context.Background(), strings.NewReader("a\tb\n1\t2\n"), "tsv", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Columns()) != 2 {
		t.Fatalf("expected 2 columns, got %v", got.Columns())
	}
	if _, err := Decode(context.Background(), strings.NewReader(""), "xlsx", nil); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestOpenHTTP_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, `[{"name": "Team A"}]`)
		}
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, sleep: noSleep}
	got, err := f.Fetch(context.Background(), config.FileSpec{Name: "team_info", Location: srv.URL + "/teams.json", Format: "json"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Len() != 1 || got.Value(0, "name") != "Team A" {
		t.Fatalf("unexpected table: %v", got.Records())
	}
	if calls.Load() != 3 {
		t.Fatalf("calls got=%d want=3", calls.Load())
	}
}

func TestOpenHTTP_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: srv.Client(), MaxAttempts: 5, sleep: noSleep}
	_, err := f.Open(context.Background(), srv.URL+"/missing.csv")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls got=%d want=1", calls.Load())
	}
}

func TestOpenHTTP_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: srv.Client(), MaxAttempts: 2, sleep: noSleep}
	_, err := f.Open(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError 503, got %v", err)
	}
}

func TestNextRetryDelay(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a    attempt
		n    int
		want time.Duration
	}{
		{"retry-after wins", attempt{status: 429, retryAfter: 7 * time.Second}, 1, 7 * time.Second},
		{"exponential", attempt{status: 503}, 3, 4 * time.Second},
		{"clamped", attempt{status: 503}, 10, 30 * time.Second},
		{"transport floor", attempt{err: io.ErrUnexpectedEOF}, 1, 5 * time.Second},
	}
	for _, c := range cases {
		if got := nextRetryDelay(c.a, c.n, time.Second, 30*time.Second); got != c.want {
			t.Fatalf("%s: got=%s want=%s", c.name, got, c.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	if got := parseRetryAfter(h); got != 0 {
		t.Fatalf("empty header got=%s", got)
	}
	h.Set("Retry-After", "3")
	if got := parseRetryAfter(h); got != 3*time.Second {
		t.Fatalf("got=%s want=3s", got)
	}
	h.Set("Retry-After", "soon")
	if got := parseRetryAfter(h); got != 0 {
		t.Fatalf("garbage got=%s", got)
	}
}

type fakeS3 struct {
	objects map[string]string
	gotKeys []string
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	k := aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	f.gotKeys = append(f.gotKeys, k)
	body, ok := f.objects[k]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestOpen_S3(t *testing.T) {
	t.Parallel()
	fs := &fakeS3{objects: map[string]string{"agora/raw/rna.tsv": "Tissue\tlogFC\nCBE\t0.1\n"}}
	f := &Fetcher{S3: fs}
	got, err := f.Fetch(context.Background(), config.FileSpec{Name: "diff_exp_data", Location: "s3://agora/raw/rna.tsv", Format: "tsv"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Value(0, "logfc") != 0.1 {
		t.Fatalf("logfc got=%#v", got.Value(0, "logfc"))
	}
	if _, err := f.Open(context.Background(), "s3://agora/missing"); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := f.Open(context.Background(), "s3://bucket-only"); err == nil {
		t.Fatalf("expected error for location without key")
	}
	if _, err := (&Fetcher{}).Open(context.Background(), "s3://agora/raw/rna.tsv"); err == nil {
		t.Fatalf("expected error without s3 client")
	}
}

func TestNew_AppliesRuntimeSettings(t *testing.T) {
	t.Parallel()
	p := &config.Pipeline{Runtime: config.RuntimeConfig{HTTPTimeoutSec: 5, HTTPRetries: 4}}
	f, err := New(p, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.HTTP.Timeout != 5*time.Second || f.MaxAttempts != 4 {
		t.Fatalf("unexpected fetcher: timeout=%s attempts=%d", f.HTTP.Timeout, f.MaxAttempts)
	}
	if f.S3 != nil {
		t.Fatalf("s3 client must not be created without s3 locations")
	}
}

func TestScheme(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"https://example.org/a.csv": "http",
		"http://x/y":                "http",
		"s3://bucket/key.feather":   "s3",
		"file:///tmp/a.json":        "file",
		"./data/a.tsv":              "file",
	}
	for in, want := range cases {
		if got := Scheme(in); got != want {
			t.Fatalf("Scheme(%q) got=%s want=%s", in, got, want)
		}
	}
}
