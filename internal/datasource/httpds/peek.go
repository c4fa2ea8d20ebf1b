package httpds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"otapetl/internal/datasource"
)

// FetchFirstBytes returns at most n leading bytes of url. A Range header asks
// the server for just those bytes; the read is capped client side for
// servers that ignore it.
func (c *Client) FetchFirstBytes(ctx context.Context, url string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("httpds: n must be > 0")
	}

	h := make(http.Header)
	h.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))

	resp, err := c.Do(ctx, http.MethodGet, url, nil, h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("httpds: GET %s: status %d", url, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, int64(n))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sniff guesses the container format and compression of url from its first
// bytes.
func (c *Client) Sniff(ctx context.Context, url string) (format, compression string, err error) {
	head, err := c.FetchFirstBytes(ctx, url, 16)
	if err != nil {
		return "", "", err
	}
	format, compression = datasource.Sniff(head)
	return format, compression, nil
}
