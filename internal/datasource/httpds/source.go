package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source reads one container from a URL.
type Source struct {
	client *Client
	url    string
}

func NewSource(c *Client, url string) *Source { return &Source{client: c, url: url} }

// Open issues the GET and returns the response body. Any status outside 2xx
// is an error.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("httpds: GET %s: %s", s.url, http.StatusText(resp.StatusCode))
	}
	return resp.Body, nil
}
