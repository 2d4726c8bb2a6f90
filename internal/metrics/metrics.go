// Package metrics is the process-wide metrics seam.
//
// Commands install a Backend once at startup (Datadog, or nothing); the rest
// of the code records through the package-level helpers and never imports a
// vendor SDK. With no backend installed every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	HTTPRequestsTotal   = "scrape_http_requests_total"
	HTTPErrorsTotal     = "scrape_http_errors_total"
	HTTPRequestDuration = "scrape_http_request_duration_seconds"
	HTTPDownloadBytes   = "scrape_http_download_bytes"
	RecordsTotal        = "scrape_records_total"
	FieldErrorsTotal    = "scrape_field_errors_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordHTTP records one HTTP attempt. status is 0 when no response arrived.
func RecordHTTP(site string, status int, err error, dur time.Duration, size int64) {
	b := current()
	labels := Labels{"site": site, "status": statusLabel(status)}

	b.IncCounter(HTTPRequestsTotal, 1, labels)
	if err != nil || status == 0 || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, labels)
	}
	if dur >= 0 {
		b.ObserveHistogram(HTTPRequestDuration, dur.Seconds(), labels)
	}
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), labels)
	}
}

// RecordExtraction records the outcome of assembling records for one operation.
func RecordExtraction(site, op string, records, fieldErrors int) {
	b := current()
	labels := Labels{"site": site, "op": op}
	if records > 0 {
		b.IncCounter(RecordsTotal, float64(records), labels)
	}
	if fieldErrors > 0 {
		b.IncCounter(FieldErrorsTotal, float64(fieldErrors), labels)
	}
}

func statusLabel(status int) string {
	if status <= 0 {
		return "network_error"
	}
	return strconv.Itoa(status)
}
