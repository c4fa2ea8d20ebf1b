package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/objstore"
	"otapetl/internal/storage"
	"otapetl/internal/storage/parquet"
)

const kind = "catalog"

// DefaultNamespace holds tables when no namespace is configured.
const DefaultNamespace = "otap"

func init() {
	storage.Register(kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		if cfg.Warehouse == "" {
			return nil, fmt.Errorf("catalog: warehouse is required")
		}
		cat, err := Open(ctx, cfg.Backend, cfg.CatalogDSN)
		if err != nil {
			return nil, err
		}
		store, err := objstore.FromURL(ctx, cfg.Warehouse)
		if err != nil {
			cat.Close()
			return nil, err
		}
		return NewSink(cat, store, SinkOptions{
			Namespace:     cfg.Namespace,
			CommitRetries: cfg.CommitRetries,
			File:          parquet.Options{Compression: cfg.Compression, Dictionary: cfg.Dictionary, Mem: cfg.Allocator()},
		}), nil
	})
}

type SinkOptions struct {
	Namespace string
	// CommitRetries is how many times a conflicting commit is re-staged
	// against a reloaded table. Zero means one retry; negative disables it.
	CommitRetries int
	File          parquet.Options
}

// Sink commits every routed record as one fast-append snapshot.
type Sink struct {
	cat     Catalog
	store   objstore.Store
	ns      string
	retries int
	file    parquet.Options

	mu     sync.Mutex
	tables map[string]*Table // last known state per table, this run
	done   bool
}

func NewSink(cat Catalog, store objstore.Store, o SinkOptions) *Sink {
	ns := storage.Identifier(o.Namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	retries := o.CommitRetries
	switch {
	case retries == 0:
		retries = 1
	case retries < 0:
		retries = 0
	}
	return &Sink{cat: cat, store: store, ns: ns, retries: retries, file: o.File, tables: map[string]*Table{}}
}

func (s *Sink) Kind() string { return kind }

func (s *Sink) cached(name string) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, fmt.Errorf("catalog: %w: sink is closed", storage.ErrSinkUnavailable)
	}
	return s.tables[name], nil
}

func (s *Sink) remember(name string, tbl *Table) {
	s.mu.Lock()
	s.tables[name] = tbl
	s.mu.Unlock()
}

// ensure returns the table, creating it from schema when it does not exist.
func (s *Sink) ensure(ctx context.Context, id Ident, schema *arrow.Schema) (*Table, error) {
	ok, err := s.cat.TableExists(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		tbl, err := s.cat.CreateTable(ctx, id, schema)
		if err == nil {
			log.Printf("catalog: created %s", id)
			return tbl, nil
		}
		if !errors.Is(err, ErrTableExists) {
			return nil, unavailable(err)
		}
		// Lost a creation race; use the winner's table.
	}
	tbl, err := s.cat.LoadTable(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	return tbl, nil
}

func (s *Sink) Write(ctx context.Context, table string, rec arrow.Record) error {
	tbl, err := s.cached(table)
	if err != nil {
		return err
	}
	id := Ident{Namespace: s.ns, Name: table}
	if tbl == nil {
		if tbl, err = s.ensure(ctx, id, rec.Schema()); err != nil {
			return err
		}
	}
	if !tbl.Schema.Equal(rec.Schema()) {
		return fmt.Errorf("catalog: %s: %w: table has %s, record has %s", id, storage.ErrSchemaMismatch, tbl.Schema, rec.Schema())
	}

	dw := NewDataWriter(s.store, tbl, s.file)
	if err := dw.Append(ctx, rec); err != nil {
		dw.Abort(context.WithoutCancel(ctx))
		return err
	}
	files, err := dw.Close(ctx)
	if err != nil {
		dw.Abort(context.WithoutCancel(ctx))
		return err
	}

	for attempt := 0; ; attempt++ {
		updated, err := NewTransaction(s.cat, tbl).FastAppend(files...).Commit(ctx)
		if err == nil {
			s.remember(table, updated)
			return nil
		}
		if !errors.Is(err, storage.ErrCommitConflict) || attempt >= s.retries {
			RemoveFiles(context.WithoutCancel(ctx), s.store, files)
			return err
		}
		log.Printf("catalog: %s: commit conflict at version %d, reloading", id, tbl.Version)
		if tbl, err = s.cat.LoadTable(ctx, id); err != nil {
			RemoveFiles(context.WithoutCancel(ctx), s.store, files)
			return unavailable(err)
		}
		if !tbl.Schema.Equal(rec.Schema()) {
			RemoveFiles(context.WithoutCancel(ctx), s.store, files)
			return fmt.Errorf("catalog: %s: %w after reload", id, storage.ErrSchemaMismatch)
		}
	}
}

func (s *Sink) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

// Close releases the catalog connection. Every write is already committed.
func (s *Sink) Close(context.Context) error {
	if !s.finish() {
		return nil
	}
	return s.cat.Close()
}

// Abort releases the catalog connection. Committed snapshots are kept;
// uncommitted data files are removed by the failing Write itself.
func (s *Sink) Abort() error {
	if !s.finish() {
		return nil
	}
	return s.cat.Close()
}

func unavailable(err error) error {
	if errors.Is(err, storage.ErrSinkUnavailable) {
		return err
	}
	return fmt.Errorf("catalog: %w: %w", storage.ErrSinkUnavailable, err)
}
