package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	flushCount      int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

// swap installs fb for the duration of the test. Tests using it are not
// parallel because the backend is process-global.
func swap(t *testing.T, fb *fakeBackend) {
	t.Helper()
	orig := current()
	SetBackend(fb)
	t.Cleanup(func() { SetBackend(orig) })
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	fb := &fakeBackend{}
	swap(t, fb)

	RecordStep("jobA", "decode", nil, 2*time.Second)
	RecordStep("jobB", "route", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 || len(fb.callsHistograms) != 2 {
		t.Fatalf("calls = %d counters, %d histograms; want 2 and 2", len(fb.callsCounters), len(fb.callsHistograms))
	}

	cc0 := fb.callsCounters[0]
	if cc0.name != StepTotal || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v", cc0)
	}
	if cc0.labels["job"] != "jobA" || cc0.labels["step"] != "decode" || cc0.labels["status"] != "success" {
		t.Fatalf("counter[0].labels = %v", cc0.labels)
	}
	h0 := fb.callsHistograms[0]
	if h0.name != StepDuration || h0.value < 1.999 || h0.value > 2.001 {
		t.Fatalf("hist[0] = %#v", h0)
	}

	cc1 := fb.callsCounters[1]
	if cc1.labels["step"] != "route" || cc1.labels["status"] != "failure" {
		t.Fatalf("counter[1].labels = %v", cc1.labels)
	}
	if h1 := fb.callsHistograms[1]; h1.value < 1.499 || h1.value > 1.501 {
		t.Fatalf("hist[1].value = %v, want ~1.5", h1.value)
	}
}

func TestRecordCounters(t *testing.T) {
	fb := &fakeBackend{}
	swap(t, fb)

	RecordRow("jobX", "rows", 3)
	RecordRow("jobX", "rows", 0) // ignored
	RecordContainers("jobX", 1)
	RecordContainers("jobX", -1) // ignored
	RecordRouteError("jobX", "catalog", "commit_conflict")

	want := []counterCall{
		{RowsTotal, 3, Labels{"job": "jobX", "kind": "rows"}},
		{ContainersTotal, 1, Labels{"job": "jobX"}},
		{RouteErrors, 1, Labels{"job": "jobX", "sink": "catalog", "kind": "commit_conflict"}},
	}
	if len(fb.callsCounters) != len(want) {
		t.Fatalf("counter calls = %#v", fb.callsCounters)
	}
	for i, w := range want {
		got := fb.callsCounters[i]
		if got.name != w.name || got.delta != w.delta || len(got.labels) != len(w.labels) {
			t.Fatalf("counter[%d] = %#v, want %#v", i, got, w)
		}
		for k, v := range w.labels {
			if got.labels[k] != v {
				t.Fatalf("counter[%d].labels[%s] = %q, want %q", i, k, got.labels[k], v)
			}
		}
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	fb := &fakeBackend{}
	swap(t, fb)

	if err := Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("flushCount = %d, want 1", fb.flushCount)
	}

	SetBackend(nil)
	if current() != Backend(fb) {
		t.Fatal("SetBackend(nil) changed the backend")
	}
}
