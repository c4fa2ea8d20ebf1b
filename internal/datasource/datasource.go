// Package datasource opens the bytes a pipeline run decodes containers from.
// Concrete sources live in subpackages (file, httpds); this package owns the
// optional compression envelope around them.
package datasource

import (
	"context"
	"io"
)

// Source yields the raw container bytes of one run.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
