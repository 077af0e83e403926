// Package extract resolves input locations, decodes them by format and
// standardizes the result.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"agoraetl/internal/config"
	"agoraetl/internal/metrics"
	"agoraetl/internal/parser/csv"
	"agoraetl/internal/parser/feather"
	"agoraetl/internal/parser/json"
	"agoraetl/internal/standardize"
	"agoraetl/internal/table"
)

// Logger is the minimal logging surface used by the fetcher.
type Logger interface {
	Printf(format string, v ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// Fetcher opens file, http(s) and s3 locations.
type Fetcher struct {
	HTTP        *http.Client
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// S3 serves s3:// locations; nil disables them.
	S3     ObjectGetter
	Logger Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// New builds a Fetcher from the runtime and source settings of p. The S3
// client is created only when a dataset reads an s3:// location.
func New(p *config.Pipeline, logger Logger) (*Fetcher, error) {
	if logger == nil {
		logger = discardLogger{}
	}
	timeout := time.Duration(p.Runtime.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	f := &Fetcher{
		HTTP:        newHTTPClient(timeout),
		MaxAttempts: max(1, p.Runtime.HTTPRetries),
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		Logger:      logger,
	}
	if usesS3(p) {
		s3c, err := NewS3(p.Source.Region)
		if err != nil {
			return nil, err
		}
		f.S3 = s3c
	}
	return f, nil
}

func usesS3(p *config.Pipeline) bool {
	for _, d := range p.Datasets {
		for _, fs := range d.Files {
			if Scheme(fs.Location) == "s3" {
				return true
			}
		}
	}
	return false
}

// Fetch reads one input file and returns it with standardized column names
// and "n/a" cells nulled.
func (f *Fetcher) Fetch(ctx context.Context, spec config.FileSpec) (*table.Table, error) {
	start := time.Now()
	t, err := f.fetch(ctx, spec)
	metrics.RecordFetch(Scheme(spec.Location), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", spec.Name, err)
	}
	t = standardize.Values(standardize.Columns(t))
	f.logger().Printf("file=%s location=%s rows=%d cols=%d duration=%s",
		spec.Name, spec.Location, t.Len(), len(t.Columns()), time.Since(start).Truncate(time.Millisecond))
	return t, nil
}

func (f *Fetcher) fetch(ctx context.Context, spec config.FileSpec) (*table.Table, error) {
	rc, err := f.Open(ctx, spec.Location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Decode(ctx, rc, spec.Format, spec.Options)
}

// Scheme classifies a location as "http", "s3" or "file".
func Scheme(location string) string {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return "http"
	case strings.HasPrefix(location, "s3://"):
		return "s3"
	default:
		return "file"
	}
}

// Decode parses r according to format: csv, tsv, json or feather.
func Decode(ctx context.Context, r io.Reader, format string, opt config.Options) (*table.Table, error) {
	switch strings.ToLower(format) {
	case "csv":
		return csv.ReadTable(ctx, r, opt)
	case "tsv":
		if opt.Any("comma") == nil {
			o := make(config.Options, len(opt)+1)
			for k, v := range opt {
				o[k] = v
			}
			o["comma"] = "\t"
			opt = o
		}
		return csv.ReadTable(ctx, r, opt)
	case "json":
		return json.ReadTable(ctx, r, opt)
	case "feather":
		return feather.ReadTable(ctx, r, opt)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Open returns a reader for location. Plain paths and file:// URLs read the
// local filesystem.
func (f *Fetcher) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch Scheme(location) {
	case "http":
		return f.openHTTP(ctx, location)
	case "s3":
		if f.S3 == nil {
			return nil, fmt.Errorf("s3 location %s: no s3 client configured", location)
		}
		bucket, key, err := splitS3(location)
		if err != nil {
			return nil, err
		}
		return getObject(ctx, f.S3, bucket, key)
	default:
		path := strings.TrimPrefix(location, "file://")
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return fh, nil
	}
}

func (f *Fetcher) logger() Logger {
	if f.Logger == nil {
		return discardLogger{}
	}
	return f.Logger
}
