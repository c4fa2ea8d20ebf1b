// Package metrics records operational metrics of a pipeline run behind a
// backend-agnostic interface. The global backend is a no-op until SetBackend
// installs a concrete one (see prompush and datadog).
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by every backend.
const (
	StepTotal       = "otap_step_total"
	StepDuration    = "otap_step_duration_seconds"
	RowsTotal       = "otap_rows_total"
	ContainersTotal = "otap_containers_total"
	RouteErrors     = "otap_route_errors_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
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

// SetBackend installs b. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
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

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline stage ("decode",
// "reconstruct", "normalize", "route", "finalize") and its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta to a run counter. Kinds mirror the run summary:
// "payloads", "payloads_skipped", "fragments", "rows", "tables_routed".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordContainers counts decoded containers.
func RecordContainers(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(ContainersTotal, float64(delta), Labels{"job": job})
}

// RecordRouteError counts one failed write of a table to a sink, by sink
// kind and error classification.
func RecordRouteError(job, sink, kind string) {
	current().IncCounter(RouteErrors, 1, Labels{"job": job, "sink": sink, "kind": kind})
}
