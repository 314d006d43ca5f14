// Package metrics is the backend-neutral metrics facade used by the loaders,
// the pipeline and the sink. Code records through the package-level helpers;
// cmd/nutrimerge decides which Backend receives the values.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names understood by backends. Unknown names are ignored.
const (
	SourceTotal           = "nutrimerge_source_total"
	SourceDurationSeconds = "nutrimerge_source_duration_seconds"
	RowsTotal             = "nutrimerge_rows_total"
	SinkBatchesTotal      = "nutrimerge_sink_batches_total"

	HTTPRequestsTotal           = "nutrimerge_http_requests_total"
	HTTPErrorsTotal             = "nutrimerge_http_errors_total"
	HTTPRequestDurationSeconds  = "nutrimerge_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "nutrimerge_http_response_duration_seconds"
	HTTPDownloadBytes           = "nutrimerge_http_download_bytes"
)

// Source outcomes used as the "status" label.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
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
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	current = b
	mu.Unlock()
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Flush flushes the current backend.
func Flush() error {
	return get().Flush()
}

// RecordSource records one source load: its outcome, duration and, on
// success, the number of rows it produced.
func RecordSource(source, status string, rows int, d time.Duration) {
	b := get()
	l := Labels{"source": source, "status": status}
	b.IncCounter(SourceTotal, 1, l)
	b.ObserveHistogram(SourceDurationSeconds, d.Seconds(), l)
	if rows > 0 {
		b.IncCounter(RowsTotal, float64(rows), Labels{"source": source})
	}
}

// RecordSinkBatch records one batch written to the database sink.
func RecordSinkBatch(kind string, rows int) {
	b := get()
	b.IncCounter(SinkBatchesTotal, 1, Labels{"sink": kind})
	if rows > 0 {
		b.IncCounter(RowsTotal, float64(rows), Labels{"source": "sink:" + kind})
	}
}

// RecordHTTP records one HTTP exchange. status is 0 when no response was
// received; requestDur and responseDur are negative when unknown.
func RecordHTTP(job string, status int, err error, requestDur, responseDur time.Duration, bytes int64) {
	b := get()
	st := "0"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	l := Labels{"job": job, "status": st}

	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status == 0 || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if requestDur >= 0 {
		b.ObserveHistogram(HTTPRequestDurationSeconds, requestDur.Seconds(), l)
	}
	if responseDur >= 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, responseDur.Seconds(), l)
	}
	if bytes >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
