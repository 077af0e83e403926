// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory, submitted on a ticker (default once per
// minute) and flushed one final time on Close. A short run therefore produces
// a single submission while a long one produces a time series.
//
// Concurrency model:
//   - Workers call IncCounter/ObserveHistogram at any time.
//   - Flush snapshots and resets buffers under the mutex, then submits
//     outside the lock.
//   - The flush loop calls Flush periodically; Close stops the loop.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"agoraetl/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "agoraetl".
	JobName string

	// Tags are extra Datadog tags (e.g. "env:prod", "team:agora").
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	datasetCounts   map[string]float64 // dataset\x00status
	rowCounts       map[string]float64 // dataset
	durationSamples map[string][]float64
	fetchCounts     map[string]float64 // scheme\x00status
	fetchDur        map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from DD_API_KEY / DD_SITE as read by
// the client; network errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "agoraetl"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
	}
	b.reset()

	go b.loop()
	return b, nil
}

// reset replaces the buffers. Callers hold b.mu or own b exclusively.
func (b *Backend) reset() {
	b.datasetCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.durationSamples = make(map[string][]float64)
	b.fetchCounts = make(map[string]float64)
	b.fetchDur = make(map[string][]float64)
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

func labelOr(labels metrics.Labels, key, def string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.DatasetTotal:
		b.datasetCounts[pairKey(labelOr(labels, "dataset", "unknown"), labelOr(labels, "status", "unknown"))] += delta
	case metrics.RowsTotal:
		dataset := labels["dataset"]
		if dataset == "" {
			return
		}
		b.rowCounts[dataset] += delta
	case metrics.FetchTotal:
		b.fetchCounts[pairKey(labelOr(labels, "scheme", "unknown"), labelOr(labels, "status", "unknown"))] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.DatasetDurationSeconds:
		k := pairKey(labelOr(labels, "dataset", "unknown"), labelOr(labels, "status", "unknown"))
		b.durationSamples[k] = append(b.durationSamples[k], value)
	case metrics.FetchDurationSeconds:
		scheme := labelOr(labels, "scheme", "unknown")
		b.fetchDur[scheme] = append(b.fetchDur[scheme], value)
	}
}

// snapshot is the detached buffer state for one flush.
type snapshot struct {
	datasetCounts   map[string]float64
	rowCounts       map[string]float64
	durationSamples map[string][]float64
	fetchCounts     map[string]float64
	fetchDur        map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		datasetCounts:   b.datasetCounts,
		rowCounts:       b.rowCounts,
		durationSamples: b.durationSamples,
		fetchCounts:     b.fetchCounts,
		fetchDur:        b.fetchDur,
	}
	b.reset()
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.datasetCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.durationSamples) == 0 &&
		len(s.fetchCounts) == 0 &&
		len(s.fetchDur) == 0
}

// Flush submits buffered metrics and resets the buffers, also when
// submission fails. It returns nil without submitting when nothing is
// buffered.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries maps a snapshot to Datadog series at a fixed timestamp. Series
// are emitted in sorted key order.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.datasetCounts)+len(s.rowCounts)+6*len(s.durationSamples))

	for _, k := range sortedKeys(s.datasetCounts) {
		dataset, status := splitPairKey(k)
		tags := withTags(b.baseTags, "dataset:"+dataset, "status:"+status)
		series = append(series, countSeries("etl.dataset.total", s.datasetCounts[k], tags, nowUnix))
	}
	for _, dataset := range sortedKeys(s.rowCounts) {
		tags := withTags(b.baseTags, "dataset:"+dataset)
		series = append(series, countSeries("etl.rows.total", s.rowCounts[dataset], tags, nowUnix))
	}
	for _, k := range sortedKeys(s.durationSamples) {
		dataset, status := splitPairKey(k)
		tags := withTags(b.baseTags, "dataset:"+dataset, "status:"+status)
		addPercentiles(&series, "etl.dataset.duration_seconds", s.durationSamples[k], tags, nowUnix)
	}
	for _, k := range sortedKeys(s.fetchCounts) {
		scheme, status := splitPairKey(k)
		tags := withTags(b.baseTags, "scheme:"+scheme, "status:"+status)
		series = append(series, countSeries("etl.fetch.total", s.fetchCounts[k], tags, nowUnix))
	}
	for _, scheme := range sortedKeys(s.fetchDur) {
		addPercentiles(&series, "etl.fetch.duration_seconds", s.fetchDur[scheme], withTags(b.baseTags, "scheme:"+scheme), nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// samples is not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:agora".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
