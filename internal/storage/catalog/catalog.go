// Package catalog is the table-catalog sink. Each routed record becomes a
// parquet data file in the warehouse and is committed to the catalog table
// as a fast append: new files are added, existing ones are never rewritten.
//
// The Catalog interface is the only contract with the backing store.
// Backends live in subpackages and register themselves by name:
//
//	import _ "otapetl/internal/storage/catalog/sqlcatalog"
//
//	cat, err := catalog.Open(ctx, "sqlite", "file:catalog.db")
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

var (
	ErrNoSuchTable = errors.New("no such table")
	ErrTableExists = errors.New("table already exists")
)

// Ident names a catalog table.
type Ident struct {
	Namespace string
	Name      string
}

func (id Ident) String() string { return id.Namespace + "." + id.Name }

// DataFile is one committed (or staged) parquet file.
type DataFile struct {
	URL      string `json:"url"`
	Key      string `json:"key"` // warehouse-relative
	Records  int64  `json:"records"`
	Size     int64  `json:"size"`
	Checksum uint64 `json:"xxh3"`
}

// Table is a snapshot of a catalog table's metadata. Version grows by one
// with every commit; a commit against an older Version is a conflict.
type Table struct {
	Ident     Ident
	Schema    *arrow.Schema
	Location  string // warehouse-relative prefix for data files
	Version   int64
	DataFiles int64
	Records   int64
	UpdatedAt time.Time
}

// Catalog stores table metadata. Implementations are safe for concurrent use.
//
// CommitSnapshot appends files to tbl and returns the reloaded table. It
// fails with storage.ErrCommitConflict when the stored version is no longer
// tbl.Version; nothing is appended in that case.
type Catalog interface {
	TableExists(ctx context.Context, id Ident) (bool, error)
	CreateTable(ctx context.Context, id Ident, schema *arrow.Schema) (*Table, error)
	LoadTable(ctx context.Context, id Ident) (*Table, error)
	CommitSnapshot(ctx context.Context, tbl *Table, files []DataFile) (*Table, error)
	Close() error
}

// Opener connects to one backend kind.
type Opener func(ctx context.Context, dsn string) (Catalog, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

func RegisterBackend(name string, o Opener) {
	mu.Lock()
	defer mu.Unlock()
	openers[strings.ToLower(name)] = o
}

func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects to backend using dsn.
func Open(ctx context.Context, backend, dsn string) (Catalog, error) {
	mu.RLock()
	o, ok := openers[strings.ToLower(backend)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("catalog: unknown backend %q (registered: %s)", backend, strings.Join(Backends(), ", "))
	}
	return o(ctx, dsn)
}

// Location is the default warehouse prefix of id.
func Location(id Ident) string { return id.Namespace + "/" + id.Name }

// EncodeSchema serializes schema as an Arrow IPC stream with no batches.
func EncodeSchema(schema *arrow.Schema) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("catalog: encode schema: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeSchema(b []byte) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("catalog: decode schema: %w", err)
	}
	defer r.Release()
	return r.Schema(), nil
}
