package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"otapetl/internal/config"
	"otapetl/internal/datasource"
	"otapetl/internal/datasource/file"
	"otapetl/internal/datasource/httpds"
	"otapetl/internal/otap"
	"otapetl/internal/parser/container"
)

// maxContainerBytes caps a single protobuf container read into memory.
const maxContainerBytes = 1 << 30

// openSourcesFn is a test seam; in production it resolves the configured
// source into one datasource.Source per container file.
var openSourcesFn = openSources

// openSources resolves the source block. A file list yields one source per
// entry; http(s) entries in a list are fetched with the same client as the
// http kind.
func openSources(src config.Source) ([]datasource.Source, error) {
	var client *httpds.Client
	httpClient := func() *httpds.Client {
		if client == nil {
			client = newHTTPClient(src.HTTP.Options)
		}
		return client
	}

	switch strings.ToLower(src.Kind) {
	case "file":
		paths := []string{src.File.Path}
		if src.File.List != "" {
			var err error
			if paths, err = file.ReadList(src.File.List); err != nil {
				return nil, err
			}
		}
		out := make([]datasource.Source, 0, len(paths))
		for _, p := range paths {
			if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
				out = append(out, httpds.NewSource(httpClient(), p))
				continue
			}
			out = append(out, file.NewLocal(p))
		}
		return out, nil
	case "http":
		return []datasource.Source{httpds.NewSource(httpClient(), src.HTTP.URL)}, nil
	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", src.Kind)
	}
}

func newHTTPClient(o config.Options) *httpds.Client {
	cfg := httpds.Config{
		MaxRetries:         o.Int("max_retries", 3),
		Timeout:            time.Duration(o.Int("timeout_seconds", 30)) * time.Second,
		InsecureSkipVerify: o.Bool("insecure_skip_verify", false),
	}
	if hs := o.StringMap("headers"); len(hs) > 0 {
		cfg.BaseHeaders = http.Header{}
		for k, v := range hs {
			cfg.BaseHeaders.Set(k, v)
		}
	}
	return httpds.NewClient(cfg)
}

// Containers opens src, strips the compression envelope and yields every
// container it carries. The reader is closed when iteration ends.
func Containers(ctx context.Context, src datasource.Source, format, compression string) iter.Seq2[*otap.Container, error] {
	return func(yield func(*otap.Container, error) bool) {
		raw, err := src.Open(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		rc, err := datasource.Decompress(raw, compression)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		br := bufio.NewReader(rc)
		if format == "" {
			// Peek errors surface again on the first real read.
			head, _ := br.Peek(4)
			format, _ = datasource.Sniff(head)
		}

		switch strings.ToLower(format) {
		case datasource.FormatJSONL:
			for c, err := range container.JSONLines(br) {
				if !yield(c, err) || err != nil {
					return
				}
			}
		case "", datasource.FormatProto:
			b, err := io.ReadAll(io.LimitReader(br, maxContainerBytes+1))
			if err != nil {
				yield(nil, fmt.Errorf("read container: %w", err))
				return
			}
			if len(b) > maxContainerBytes {
				yield(nil, fmt.Errorf("read container: larger than %d bytes", maxContainerBytes))
				return
			}
			yield(container.Decode(b))
		default:
			yield(nil, fmt.Errorf("unsupported source.format=%s", format))
		}
	}
}
