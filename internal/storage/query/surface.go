// Package query is the in-process query surface: routed tables are
// registered under their derived name in an embedded SQL database and can be
// queried back as Arrow records.
//
// sqlite (modernc.org/sqlite, pure Go) is the default engine. Importing
// otapetl/internal/storage/query/duckdb adds "duckdb".
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "modernc.org/sqlite"

	"otapetl/internal/ddl"
)

var (
	enginesMu sync.RWMutex
	engines   = map[string]ddl.Dialect{"sqlite": ddl.SQLite}
)

// RegisterEngine makes an embedded engine available. Its database/sql
// driver must be registered under d.Driver.
func RegisterEngine(name string, d ddl.Dialect) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[strings.ToLower(name)] = d
}

// Surface is an ephemeral database holding the latest registration of each
// table name.
type Surface struct {
	db  *sql.DB
	d   ddl.Dialect
	mem memory.Allocator

	mu     sync.RWMutex
	tables map[string]*arrow.Schema
}

// Open starts engine with dsn. An empty engine selects sqlite; an empty dsn
// a private in-memory database.
func Open(ctx context.Context, engine, dsn string, mem memory.Allocator) (*Surface, error) {
	if engine == "" {
		engine = "sqlite"
	}
	enginesMu.RLock()
	d, ok := engines[strings.ToLower(engine)]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("query: unknown engine %q", engine)
	}
	if dsn == "" && d.Name == ddl.SQLite.Name {
		dsn = ":memory:"
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("query %s: open: %w", d.Name, err)
	}
	if d.Name == ddl.SQLite.Name {
		// A ":memory:" database lives on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("query %s: ping: %w", d.Name, err)
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Surface{db: db, d: d, mem: mem, tables: map[string]*arrow.Schema{}}, nil
}

func (s *Surface) Engine() string { return s.d.Name }

// Register replaces any table registered as name with the rows of rec.
// Struct columns are flattened to "<parent>.<child>" columns; dictionary
// columns are stored decoded.
func (s *Surface) Register(ctx context.Context, name string, rec arrow.Record) error {
	def, err := ddl.FromSchema(s.d, name, rec.Schema())
	if err != nil {
		return err
	}
	create, err := ddl.BuildCreateTableSQL(s.d, def)
	if err != nil {
		return err
	}
	cols := ddl.Flatten(rec.Schema())
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.d.Quote(c.Name)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.d.Quote(name), strings.Join(quoted, ", "), s.d.Placeholders(len(cols)))

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("query: register %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl.DropTableSQL(s.d, def)); err != nil {
		return fmt.Errorf("query: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("query: create %s: %w", name, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("query: prepare %s: %w", name, err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for i := 0; i < int(rec.NumRows()); i++ {
		for j, c := range cols {
			args[j] = cell(rec, c, i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("query: insert %s row %d: %w", name, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("query: register %s: %w", name, err)
	}
	if _, ok := s.tables[name]; ok {
		log.Printf("query: replaced %s (%d rows)", name, rec.NumRows())
	}
	s.tables[name] = rec.Schema()
	return nil
}

// Tables lists the registered table names.
func (s *Surface) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs query and returns its result as records. The caller
// releases them.
func (s *Surface) Execute(ctx context.Context, query string) ([]arrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	recs, err := readRecords(s.mem, rows)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return recs, nil
}

func (s *Surface) Close() error { return s.db.Close() }
