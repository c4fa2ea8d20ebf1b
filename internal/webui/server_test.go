package webui

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/otap/sample"
	"otapetl/internal/storage/query"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	s, err := query.Open(ctx, "", "", memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("query.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := sample.Attrs(memory.DefaultAllocator, []uint16{10, 10, 11}, nil, []string{"service.name", "host", "<b>"})
	defer rec.Release()
	if err := s.Register(ctx, "logattrs", rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	srv := httptest.NewServer(NewServer(Config{}, s).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestIndexListsTables(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	out := body(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(out, "<code>logattrs</code>") || !strings.Contains(out, "SELECT * FROM logattrs LIMIT 20") {
		t.Fatalf("GET / = %d\n%s", resp.StatusCode, out)
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /nope status = %d", resp.StatusCode)
	}
}

func TestQueryFormRendersEscapedTable(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/query", url.Values{"sql": {"SELECT key FROM logattrs ORDER BY key"}})
	if err != nil {
		t.Fatalf("POST /query: %v", err)
	}
	out := body(t, resp)
	if !strings.Contains(out, "3 row(s)") || !strings.Contains(out, `class="result"`) {
		t.Fatalf("POST /query output:\n%s", out)
	}
	if strings.Contains(out, "<b>") || !strings.Contains(out, "&lt;b&gt;") {
		t.Fatalf("cell value not escaped:\n%s", out)
	}

	resp, err = http.PostForm(srv.URL+"/query", url.Values{"sql": {"SELECT * FROM missing"}})
	if err != nil {
		t.Fatalf("POST /query: %v", err)
	}
	if out := body(t, resp); !strings.Contains(out, `class="error"`) {
		t.Fatalf("failed query rendered no error:\n%s", out)
	}
}

func TestAPIQuery(t *testing.T) {
	srv := newTestServer(t)

	q := url.Values{"sql": {"SELECT parent_id, count(*) AS n FROM logattrs GROUP BY parent_id ORDER BY parent_id"}, "format": {"csv"}}
	resp, err := http.Get(srv.URL + "/api/query?" + q.Encode())
	if err != nil {
		t.Fatalf("GET /api/query: %v", err)
	}
	if got, want := body(t, resp), "parent_id,n\n10,2\n11,1\n"; got != want {
		t.Fatalf("csv = %q, want %q", got, want)
	}

	for _, bad := range []string{"", "sql=SELECT+1&format=xml", "sql=SELECT+*+FROM+missing"} {
		resp, err := http.Get(srv.URL + "/api/query?" + bad)
		if err != nil {
			t.Fatalf("GET /api/query?%s: %v", bad, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET /api/query?%s status = %d, want 400", bad, resp.StatusCode)
		}
	}
}
