package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

// TestNewClient_Defaults verifies defaults and the TLS setting of the
// default transport.
func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{InsecureSkipVerify: true})

	if c.httpClient.Timeout <= 0 {
		t.Fatalf("expected non-zero timeout, got %v", c.httpClient.Timeout)
	}
	if c.rc.RetryMax != 0 {
		t.Fatalf("expected default RetryMax=0, got %d", c.rc.RetryMax)
	}
	if c.rc.RetryWaitMin <= 0 || c.rc.RetryWaitMax < c.rc.RetryWaitMin {
		t.Fatalf("backoff bounds = %v..%v", c.rc.RetryWaitMin, c.rc.RetryWaitMax)
	}
	if c.rc.HTTPClient != c.httpClient {
		t.Fatalf("retrying client does not use the configured http.Client")
	}

	transport, ok := c.httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.httpClient.Transport)
	}
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("expected InsecureSkipVerify=true when configured")
	}
}

func TestDo_Success_NoRetry(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(3))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

// TestDo_RetryOn5xxThenSuccess: two 500s followed by a 200.
func TestDo_RetryOn5xxThenSuccess(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := NewClient(fastConfig(3))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts (2x500 + 1x200), got %d", got)
	}
}

func TestDo_StopsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(2))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected error after exhausting retries, got nil")
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("error %q does not name the last status", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts (1 initial + 2 retries), got %d", got)
	}
}

func TestDo_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(5))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 attempt for non-retryable status, got %d", got)
	}
}

func TestDo_ResendsBodyAndMergesHeaders(t *testing.T) {
	t.Parallel()

	var hits int32
	var bodies []string
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		tokens = append(tokens, r.Header.Get("X-Token")+"|"+r.Header.Get("X-Base"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := fastConfig(1)
	cfg.BaseHeaders = http.Header{"X-Token": {"base"}, "X-Base": {"b"}}
	c := NewClient(cfg)
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, []byte("payload"), http.Header{"X-Token": {"req"}})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != "payload" || bodies[1] != "payload" {
		t.Fatalf("bodies = %q", bodies)
	}
	if tokens[0] != "req|b" {
		t.Fatalf("headers = %q, want per-request value to win", tokens[0])
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	t.Parallel()

	c := NewClient(fastConfig(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "http://127.0.0.1:1", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDo_Validation(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if _, err := c.Do(context.Background(), "", "http://x", nil, nil); err == nil {
		t.Fatalf("empty method accepted")
	}
	if _, err := c.Do(context.Background(), http.MethodGet, "", nil, nil); err == nil {
		t.Fatalf("empty url accepted")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 503} {
		code := code
		t.Run("retryable/"+strconv.Itoa(code), func(t *testing.T) {
			t.Parallel()
			if !isRetryableStatus(code) {
				t.Fatalf("expected status %d to be retryable", code)
			}
		})
	}
	for _, code := range []int{200, 400, 404} {
		code := code
		t.Run("non-retryable/"+strconv.Itoa(code), func(t *testing.T) {
			t.Parallel()
			if isRetryableStatus(code) {
				t.Fatalf("expected status %d to be non-retryable", code)
			}
		})
	}
}

// TestCustomTransport ensures a supplied Transport is used as is.
func TestCustomTransport(t *testing.T) {
	t.Parallel()

	custom := &http.Transport{TLSClientConfig: &tls.Config{}}
	c := NewClient(Config{Transport: custom, InsecureSkipVerify: true})

	if c.httpClient.Transport != http.RoundTripper(custom) {
		t.Fatalf("expected custom transport to be used")
	}
	if custom.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("InsecureSkipVerify leaked into the custom transport")
	}
}

func TestSourceOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte{0x08, 0x07})
	}))
	defer srv.Close()

	c := NewClient(fastConfig(0))
	rc, err := NewSource(c, srv.URL+"/batch.pb").Open(context.Background())
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "\x08\x07" {
		t.Fatalf("body = %q", b)
	}

	if _, err := NewSource(c, srv.URL+"/missing").Open(context.Background()); err == nil {
		t.Fatalf("Open(404) error = nil")
	}
}
