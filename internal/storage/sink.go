// Package storage defines the sink contract normalized OTAP tables are routed
// to, a registry of sink factories, and the Router that fans tables out.
//
// Concrete sinks live in subpackages and register themselves from init:
//
//	import _ "otapetl/internal/storage/all"
//
//	sink, err := storage.New(ctx, storage.Config{Kind: "parquet", Root: "out"})
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Sink receives normalized tables under their derived name.
//
// Write must not mutate rec; a sink that keeps rec past the call retains it.
// Close finalizes everything written (flush file footers, commit). Abort
// abandons whatever has not been finalized and must leave previously
// committed state intact. After Close or Abort further writes fail with
// ErrSinkUnavailable.
type Sink interface {
	Kind() string
	Write(ctx context.Context, table string, rec arrow.Record) error
	Close(ctx context.Context) error
	Abort() error
}

// Config carries the settings of one sink. Each kind reads the fields it
// needs and ignores the rest.
type Config struct {
	Kind string

	// Query surface.
	Engine string // "sqlite" (default) or "duckdb"
	DSN    string // engine DSN; empty means a private in-memory database

	// File export.
	Root        string // directory or s3://bucket/prefix
	Compression string // "snappy" (default), "zstd", "gzip", "none"
	Dictionary  bool

	// Catalog.
	Backend       string // catalog backend kind, e.g. "sqlite", "postgres", "bolt"
	CatalogDSN    string
	Namespace     string
	Warehouse     string // object store root for data files
	CommitRetries int

	Mem memory.Allocator
}

// Allocator returns c.Mem or the default allocator.
func (c Config) Allocator() memory.Allocator {
	if c.Mem == nil {
		return memory.DefaultAllocator
	}
	return c.Mem
}

// Factory opens a sink of one kind.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a sink kind available to New. It is called from the init
// function of each sink package; registering a kind twice replaces it.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// Kinds lists the registered sink kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a sink of kind cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(cfg.Kind)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown sink kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}
