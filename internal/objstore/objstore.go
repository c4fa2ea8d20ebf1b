// Package objstore stores sink output files on the local filesystem or in S3.
//
// A Writer is invisible under its key until Close publishes it; Abort drops
// everything written so far. Readers never observe a partially written object.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Open, Stat and Remove for a missing key.
var ErrNotFound = errors.New("object not found")

// Info describes a published object.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Writer streams one object. Close publishes it under its key, Abort discards
// it. Calling either after the other is a no-op.
type Writer interface {
	io.Writer
	Close() error
	Abort() error
}

// Store addresses objects by slash-separated keys relative to its root.
type Store interface {
	Create(ctx context.Context, key string) (Writer, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Info, error)
	Remove(ctx context.Context, key string) error
	// URL is the absolute location of key, as recorded by the catalog.
	URL(key string) string
}

// FromURL opens the store rooted at loc: "s3://bucket/prefix" selects S3,
// "file:///dir" or a plain path selects the local filesystem.
func FromURL(ctx context.Context, loc string) (Store, error) {
	if loc == "" {
		return nil, fmt.Errorf("objstore: empty location")
	}
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters.
		return NewLocal(loc)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("objstore: %q has no bucket", loc)
		}
		return NewS3(ctx, u.Host, strings.Trim(u.Path, "/"))
	default:
		return nil, fmt.Errorf("objstore: unsupported scheme %q", u.Scheme)
	}
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)[1:]
	if k == "" || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("objstore: invalid key %q", key)
	}
	return k, nil
}
