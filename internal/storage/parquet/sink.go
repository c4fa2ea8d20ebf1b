package parquet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/objstore"
	"otapetl/internal/storage"
)

const kind = "parquet"

// DataFile is the per-table file name under the export root.
const DataFile = "data.parquet"

func init() {
	storage.Register(kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		if cfg.Root == "" {
			return nil, fmt.Errorf("parquet: root is required")
		}
		store, err := objstore.FromURL(ctx, cfg.Root)
		if err != nil {
			return nil, err
		}
		return NewSink(store, Options{Compression: cfg.Compression, Dictionary: cfg.Dictionary, Mem: cfg.Allocator()})
	})
}

// Sink writes each table to its own file, opened on the table's first write.
type Sink struct {
	store objstore.Store
	opts  Options

	mu      sync.Mutex
	targets map[string]*target
	done    bool
}

// target is one path with exactly one writer.
type target struct {
	mu   sync.Mutex
	w    objstore.Writer
	file *File
}

func NewSink(store objstore.Store, o Options) (*Sink, error) {
	if _, err := ParseCompression(o.Compression); err != nil {
		return nil, err
	}
	return &Sink{store: store, opts: o, targets: map[string]*target{}}, nil
}

func (s *Sink) Kind() string { return kind }

// Path is the object key of table's file.
func Path(table string) string { return path.Join(table, DataFile) }

func (s *Sink) target(table string) (*target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, fmt.Errorf("parquet: %w: sink is closed", storage.ErrSinkUnavailable)
	}
	t, ok := s.targets[table]
	if !ok {
		t = &target{}
		s.targets[table] = t
	}
	return t, nil
}

func (s *Sink) Write(ctx context.Context, table string, rec arrow.Record) error {
	t, err := s.target(table)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		w, err := s.store.Create(ctx, Path(table))
		if err != nil {
			return fmt.Errorf("parquet: %w: %w", storage.ErrSinkUnavailable, err)
		}
		f, err := NewFile(w, rec.Schema(), s.opts)
		if err != nil {
			w.Abort()
			return err
		}
		t.w, t.file = w, f
	}
	return t.file.Write(rec)
}

// detach takes ownership of every open target; later writes fail.
func (s *Sink) detach() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	tables := make([]string, 0, len(s.targets))
	for table := range s.targets {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Close writes every footer and publishes the files.
func (s *Sink) Close(context.Context) error {
	var errs []error
	for _, table := range s.detach() {
		t := s.targets[table]
		t.mu.Lock()
		if t.file != nil {
			if err := t.file.Finish(); err != nil {
				t.w.Abort()
				errs = append(errs, fmt.Errorf("%s: %w", table, err))
			} else if err := t.w.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", table, err))
			} else {
				log.Printf("parquet: wrote %s (%d rows)", s.store.URL(Path(table)), t.file.Rows())
			}
		}
		t.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Abort discards every unpublished file. Files from earlier runs are kept.
func (s *Sink) Abort() error {
	var errs []error
	for _, table := range s.detach() {
		t := s.targets[table]
		t.mu.Lock()
		if t.file != nil {
			t.file.Finish()
			if err := t.w.Abort(); err != nil {
				errs = append(errs, err)
			}
		}
		t.mu.Unlock()
	}
	return errors.Join(errs...)
}
