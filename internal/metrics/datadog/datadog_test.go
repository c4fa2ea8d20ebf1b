package datadog

import (
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/google/go-cmp/cmp"

	"otapetl/internal/metrics"
)

type call struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type recordingClient struct {
	*statsd.NoOpClient
	calls  []call
	closed bool
}

func (r *recordingClient) Count(name string, value int64, tags []string, _ float64) error {
	r.calls = append(r.calls, call{"count", name, float64(value), tags})
	return nil
}

func (r *recordingClient) Histogram(name string, value float64, tags []string, _ float64) error {
	r.calls = append(r.calls, call{"histogram", name, value, tags})
	return nil
}

func (r *recordingClient) Close() error { r.closed = true; return nil }

func TestBackendSendsTaggedMetrics(t *testing.T) {
	t.Parallel()

	rc := &recordingClient{NoOpClient: &statsd.NoOpClient{}}
	b := &Backend{client: rc}

	b.IncCounter(metrics.RouteErrors, 1, metrics.Labels{"sink": "catalog", "kind": "commit_conflict", "job": "j"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "route"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush error = %v", err)
	}

	want := []call{
		{"count", metrics.RouteErrors, 1, []string{"job:j", "kind:commit_conflict", "sink:catalog"}},
		{"histogram", metrics.StepDuration, 0.25, []string{"step:route"}},
	}
	if diff := cmp.Diff(want, rc.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if !rc.closed {
		t.Fatalf("Flush did not close the client")
	}
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatalf("NewBackend without Addr error = nil")
	}
	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "otap.", GlobalTags: []string{"env:test"}})
	if err != nil {
		t.Fatalf("NewBackend error = %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "rows"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush error = %v", err)
	}
}

func TestZeroBackendIsNoop(t *testing.T) {
	t.Parallel()

	var b Backend
	b.IncCounter(metrics.StepTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	if labelsToTags(nil) != nil {
		t.Fatalf("labelsToTags(nil) != nil")
	}
}
