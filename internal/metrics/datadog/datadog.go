// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on Flush. A background
// loop flushes on a ticker (default once per minute) so a long dump import
// shows up as a time series, and Close performs one final flush.
//
// Concurrency model:
//   - loaders can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - Close stops the loop; it must be called once
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"nutrimerge/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "nutrimerge".
	JobName string

	// Tags are extra Datadog tags (e.g. "env:prod", "run_id:...").
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the one method of *datadogV2.MetricsApi the backend
// needs, so tests can substitute a fake.
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

	sourceCounts    map[string]float64   // source\x00status -> count
	sourceDurations map[string][]float64 // source\x00status -> seconds
	rowCounts       map[string]float64   // source -> rows
	sinkBatches     map[string]float64   // sink kind -> batches

	httpReqCounts map[string]float64 // status -> count
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
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

// Close stops the background flush loop and performs one final Flush.
// It returns the error of that final submission.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// NewBackend constructs a Datadog backend using the official client. API
// credentials come from DD_API_KEY/DD_SITE through the client's default
// context; network errors surface from Flush, not here.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "nutrimerge".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}

	job := opts.JobName
	if job == "" {
		job = "nutrimerge"
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

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,
	}
	b.reset()

	go b.loop()
	return b, nil
}

// reset replaces every buffer. Callers hold mu or own b exclusively.
func (b *Backend) reset() {
	b.sourceCounts = make(map[string]float64)
	b.sourceDurations = make(map[string][]float64)
	b.rowCounts = make(map[string]float64)
	b.sinkBatches = make(map[string]float64)

	b.httpReqCounts = make(map[string]float64)
	b.httpErrCounts = make(map[string]float64)
	b.httpReqDur = make(map[string][]float64)
	b.httpRespDur = make(map[string][]float64)
	b.httpDownloadB = make(map[string][]float64)
}

func labelOr(labels metrics.Labels, key, def string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.SourceTotal:
		k := sourceStatusKey(labels["source"], labels["status"])
		b.sourceCounts[k] += delta

	case metrics.RowsTotal:
		src := labels["source"]
		if src == "" {
			return
		}
		b.rowCounts[src] += delta

	case metrics.SinkBatchesTotal:
		b.sinkBatches[labelOr(labels, "sink", "unknown")] += delta

	case metrics.HTTPRequestsTotal:
		b.httpReqCounts[labelOr(labels, "status", "unknown")] += delta

	case metrics.HTTPErrorsTotal:
		b.httpErrCounts[labelOr(labels, "status", "unknown")] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.SourceDurationSeconds:
		k := sourceStatusKey(labels["source"], labels["status"])
		b.sourceDurations[k] = append(b.sourceDurations[k], value)

	case metrics.HTTPRequestDurationSeconds:
		st := labelOr(labels, "status", "unknown")
		b.httpReqDur[st] = append(b.httpReqDur[st], value)

	case metrics.HTTPResponseDurationSeconds:
		st := labelOr(labels, "status", "unknown")
		b.httpRespDur[st] = append(b.httpRespDur[st], value)

	case metrics.HTTPDownloadBytes:
		st := labelOr(labels, "status", "unknown")
		b.httpDownloadB[st] = append(b.httpDownloadB[st], value)
	}
}

// snapshot is the detached buffer state of one flush window.
type snapshot struct {
	sourceCounts    map[string]float64
	sourceDurations map[string][]float64
	rowCounts       map[string]float64
	sinkBatches     map[string]float64

	httpReqCounts map[string]float64
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		sourceCounts:    b.sourceCounts,
		sourceDurations: b.sourceDurations,
		rowCounts:       b.rowCounts,
		sinkBatches:     b.sinkBatches,

		httpReqCounts: b.httpReqCounts,
		httpErrCounts: b.httpErrCounts,
		httpReqDur:    b.httpReqDur,
		httpRespDur:   b.httpRespDur,
		httpDownloadB: b.httpDownloadB,
	}
	b.reset()
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.sourceCounts) == 0 &&
		len(s.sourceDurations) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.sinkBatches) == 0 &&
		len(s.httpReqCounts) == 0 &&
		len(s.httpErrCounts) == 0 &&
		len(s.httpReqDur) == 0 &&
		len(s.httpRespDur) == 0 &&
		len(s.httpDownloadB) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
// Buffers are reset even when submission fails; delivery is at most once.
// Nothing is submitted for an empty window.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Metric names and tags here are what dashboards depend on.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.sourceCounts)+len(s.rowCounts)+32)

	for k, v := range s.sourceCounts {
		if v == 0 {
			continue
		}
		src, status := splitSourceStatusKey(k)
		series = append(series, countSeries("nutrimerge.source.total", v, withTags(b.baseTags, "source:"+src, "status:"+status), nowUnix))
	}
	for src, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("nutrimerge.rows.total", v, withTags(b.baseTags, "source:"+src), nowUnix))
	}
	for sink, v := range s.sinkBatches {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("nutrimerge.sink.batches.total", v, withTags(b.baseTags, "sink:"+sink), nowUnix))
	}
	for k, samples := range s.sourceDurations {
		src, status := splitSourceStatusKey(k)
		addPercentiles(&series, "nutrimerge.source.duration_seconds", samples, withTags(b.baseTags, "source:"+src, "status:"+status), nowUnix)
	}

	for status, v := range s.httpReqCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("nutrimerge.http.requests.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, v := range s.httpErrCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("nutrimerge.http.errors.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, samples := range s.httpReqDur {
		addPercentiles(&series, "nutrimerge.http.request_duration_seconds", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for status, samples := range s.httpRespDur {
		addPercentiles(&series, "nutrimerge.http.response_duration_seconds", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for status, samples := range s.httpDownloadB {
		addPercentiles(&series, "nutrimerge.http.download_bytes", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}

	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; empty sample sets add nothing.
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

func sourceStatusKey(source, status string) string {
	return source + "\x00" + status
}

func splitSourceStatusKey(k string) (source, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
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

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
