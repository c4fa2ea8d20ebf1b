// Package httpds fetches containers over HTTP. Retries and backoff belong to
// the client configuration: transport errors, 429 and 5xx responses are
// retried with exponential backoff by go-retryablehttp, everything else is
// returned to the caller as is.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Config configures the HTTP client.
//
// Zero values are given defaults:
//   - Timeout:        30s
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	// InitialBackoff is the wait before the first retry; each retry doubles
	// it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// BaseHeaders are added to every request. Per-request headers win.
	BaseHeaders http.Header

	// Transport replaces the default *http.Transport. TLS settings from this
	// Config are not applied to it.
	Transport http.RoundTripper
}

// Client is a retrying HTTP client.
type Client struct {
	rc          *retryablehttp.Client
	httpClient  *http.Client
	baseHeaders http.Header
}

// NewClient constructs a Client from cfg, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}
	hc := &http.Client{Timeout: cfg.Timeout, Transport: transport}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = hc
	rc.Logger = nil
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.InitialBackoff
	rc.RetryWaitMax = cfg.MaxBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = giveUp
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Printf("httpds: retry %d %s %s", attempt, req.Method, req.URL.Redacted())
		}
	}

	return &Client{rc: rc, httpClient: hc, baseHeaders: cfg.BaseHeaders.Clone()}
}

// Do sends one request, retrying transient failures. body is re-sent as is on
// every attempt. The caller must close the response body.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	if method == "" {
		return nil, fmt.Errorf("httpds: method must not be empty")
	}
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw any
	if body != nil {
		raw = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.rc.Do(req)
}

// Get is Do for HTTP GET.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return isRetryableStatus(resp.StatusCode), nil
}

// giveUp replaces the library's "giving up" error so the last status is
// visible and the response body is never leaked.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("httpds: giving up after %d attempt(s): %w", attempts, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("httpds: giving up after %d attempt(s): retryable status %d from %s %s",
			attempts, resp.StatusCode, resp.Request.Method, resp.Request.URL.Redacted())
	}
	return nil, fmt.Errorf("httpds: giving up after %d attempt(s)", attempts)
}

// isRetryableStatus treats 429 and 5xx as transient.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}
