// Package metrics is a small facade the ETL code reports into. A concrete
// backend (Datadog, or nothing) is installed once at startup by the command.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	DatasetTotal           = "etl_dataset_total"
	RowsTotal              = "etl_rows_total"
	DatasetDurationSeconds = "etl_dataset_duration_seconds"
	FetchTotal             = "etl_fetch_total"
	FetchDurationSeconds   = "etl_fetch_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordDataset reports one processed dataset: a count by status, its
// duration and the rows it produced.
func RecordDataset(dataset, status string, dur time.Duration, rows int) {
	b := current()
	l := Labels{"dataset": dataset, "status": status}
	b.IncCounter(DatasetTotal, 1, l)
	b.ObserveHistogram(DatasetDurationSeconds, dur.Seconds(), l)
	if rows > 0 {
		b.IncCounter(RowsTotal, float64(rows), Labels{"dataset": dataset})
	}
}

// RecordFetch reports one input fetch by location scheme ("file", "http",
// "s3"). status is "ok" or "error".
func RecordFetch(scheme string, err error, dur time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	b := current()
	b.IncCounter(FetchTotal, 1, Labels{"scheme": scheme, "status": status})
	b.ObserveHistogram(FetchDurationSeconds, dur.Seconds(), Labels{"scheme": scheme, "status": status})
}
