// Package file opens container files from the local disk.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is a container file on the local filesystem.
type Local struct{ path string }

func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the file the source reads.
func (l *Local) Path() string { return l.path }

// Open returns the file positioned at offset zero. A cancelled ctx fails
// before the filesystem is touched. The kernel is told the file is read
// once front to back.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}
