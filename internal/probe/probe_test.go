package probe

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"otapetl/internal/config"
	"otapetl/internal/otap"
	"otapetl/internal/otap/otaptest"
	"otapetl/internal/otap/sample"
	"otapetl/internal/parser/container"
)

func sampleContainer(t *testing.T) *otap.Container {
	t.Helper()
	mem := otaptest.Allocator(t)
	c, err := sample.Batch(mem, sample.Options{BatchID: 11, Rows: 4, AttrsPer: 2, Fragments: 2})
	if err != nil {
		t.Fatalf("sample.Batch: %v", err)
	}
	return c
}

func TestProbeFile(t *testing.T) {
	t.Parallel()

	c := sampleContainer(t)
	c.Payloads[3].Record = []byte("not arrow") // ScopeAttrs
	path := filepath.Join(t.TempDir(), "batch.pb")
	if err := os.WriteFile(path, container.Encode(c), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rep, err := Probe(context.Background(), Options{Path: path, Mem: otaptest.Allocator(t)})
	if err != nil {
		t.Fatalf("Probe error = %v", err)
	}
	if rep.Format != "proto" || rep.Compression != "none" || len(rep.Containers) != 1 {
		t.Fatalf("report = %+v", rep)
	}

	type shape struct {
		Table     string
		Kind      string
		Fragments int
		Rows      int64
		Failed    bool
	}
	var got []shape
	for _, p := range rep.Containers[0].Payloads {
		got = append(got, shape{p.Table, p.Kind, p.Fragments, p.Rows, p.Error != ""})
	}
	want := []shape{
		{"logs", "primary", 2, 8, false},
		{"logattrs", "child", 1, 16, false},
		{"resourceattrs", "child", 1, 8, false},
		{"scopeattrs", "child", 0, 0, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payloads mismatch (-want +got):\n%s", diff)
	}
	if cols := rep.Containers[0].Payloads[1].Columns; len(cols) != 3 || cols[0].Name != "parent_id" || cols[0].Type != "uint16" {
		t.Fatalf("logattrs columns = %+v", cols)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, rep); err != nil {
		t.Fatalf("WriteText error = %v", err)
	}
	for _, s := range []string{"batch 11", "logattrs", "invalid stream"} {
		if !strings.Contains(buf.String(), s) {
			t.Fatalf("WriteText output missing %q:\n%s", s, buf.String())
		}
	}
}

func TestProbeURLZstd(t *testing.T) {
	t.Parallel()

	var z bytes.Buffer
	zw, err := zstd.NewWriter(&z)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	for i := 0; i < 3; i++ {
		line, err := container.EncodeJSON(sampleContainer(t))
		if err != nil {
			t.Fatalf("EncodeJSON: %v", err)
		}
		zw.Write(append(line, '\n'))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(z.Bytes())
	}))
	defer srv.Close()

	rep, err := Probe(context.Background(), Options{URL: srv.URL + "/batches.jsonl.zst", MaxContainers: 2})
	if err != nil {
		t.Fatalf("Probe error = %v", err)
	}
	if rep.Compression != "zstd" || rep.Format != "auto" || len(rep.Containers) != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestProbeOptionsValidation(t *testing.T) {
	t.Parallel()

	if _, err := Probe(context.Background(), Options{}); err == nil {
		t.Fatalf("Probe(no source) error = nil")
	}
	if _, err := Probe(context.Background(), Options{Path: "a", URL: "http://b"}); err == nil {
		t.Fatalf("Probe(path and url) error = nil")
	}
}

func TestSuggestIsValid(t *testing.T) {
	t.Parallel()

	rep := &Report{
		Source:      "data/batch.pb",
		Format:      "proto",
		Compression: "none",
		Containers: []ContainerReport{{Payloads: []PayloadReport{
			{Table: "logs"}, {Table: "logattrs"}, {Table: "logs"},
		}}},
	}
	for _, backend := range []string{"", "postgres", "bolt", "mysql", "mssql"} {
		p := Suggest(rep, SuggestOptions{Job: "Edge Logs", Backend: backend, Root: "tmp"})
		if p.Job != "edge_logs" {
			t.Fatalf("Job = %q", p.Job)
		}
		if diff := cmp.Diff([]string{"logs", "logattrs"}, p.Payloads); diff != "" {
			t.Fatalf("Payloads mismatch (-want +got):\n%s", diff)
		}
		if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
			t.Fatalf("Suggest(%q) is invalid: %v", backend, issues)
		}
	}

	p := Suggest(&Report{Source: "https://example.com/b.pb", Format: "auto"}, SuggestOptions{})
	if p.Source.Kind != "http" || p.Source.HTTP.URL != "https://example.com/b.pb" || p.Source.Format != "" {
		t.Fatalf("Source = %+v", p.Source)
	}
}
