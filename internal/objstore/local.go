package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Local is a Store over a directory tree.
type Local struct {
	root string
}

// NewLocal returns a Store rooted at dir, creating dir if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("objstore: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(k)), nil
}

func (l *Local) URL(key string) string {
	p, err := l.path(key)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(p)
}

// Create writes to a hidden temp file next to the destination; Close syncs
// and renames it into place.
func (l *Local) Create(_ context.Context, key string) (Writer, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("objstore: create %s: %w", key, err)
	}
	return &localWriter{f: f, dst: p}, nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, notFound(key, err)
	}
	return f, nil
}

func (l *Local) Stat(_ context.Context, key string) (Info, error) {
	p, err := l.path(key)
	if err != nil {
		return Info{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return Info{}, notFound(key, err)
	}
	return Info{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

func (l *Local) Remove(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(key, err)
	}
	return nil
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("objstore: %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("objstore: %s: %w", key, err)
}

type localWriter struct {
	f   *os.File
	dst string

	once sync.Once
	err  error
}

func (w *localWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *localWriter) Close() error {
	w.once.Do(func() {
		tmp := w.f.Name()
		if err := w.f.Sync(); err != nil {
			w.f.Close()
			os.Remove(tmp)
			w.err = fmt.Errorf("objstore: sync %s: %w", w.dst, err)
			return
		}
		if err := w.f.Close(); err != nil {
			os.Remove(tmp)
			w.err = fmt.Errorf("objstore: close %s: %w", w.dst, err)
			return
		}
		if err := os.Rename(tmp, w.dst); err != nil {
			os.Remove(tmp)
			w.err = fmt.Errorf("objstore: publish %s: %w", w.dst, err)
		}
	})
	return w.err
}

func (w *localWriter) Abort() error {
	w.once.Do(func() {
		w.f.Close()
		if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.err = fmt.Errorf("objstore: discard %s: %w", w.dst, err)
		}
	})
	return w.err
}
