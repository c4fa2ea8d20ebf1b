// Package sqlcatalog keeps catalog metadata in two SQL tables:
//
//	otap_catalog_tables  one row per table: schema, location, version, totals
//	otap_catalog_files   one row per committed data file, tagged with the
//	                     version that added it
//
// A commit is a single transaction that bumps the table's version with a
// compare-and-set UPDATE and inserts the new file rows. Backends: sqlite,
// postgres (pgx), mysql and mssql.
package sqlcatalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"otapetl/internal/ddl"
	"otapetl/internal/storage"
	"otapetl/internal/storage/catalog"
)

const (
	tablesTable = "otap_catalog_tables"
	filesTable  = "otap_catalog_files"
)

// Catalog is a catalog.Catalog over database/sql.
type Catalog struct {
	db       *sql.DB
	d        ddl.Dialect
	isUnique func(error) bool
}

var _ catalog.Catalog = (*Catalog)(nil)

// Open connects with the dialect's driver, pings, and creates the metadata
// tables when missing.
func Open(ctx context.Context, d ddl.Dialect, dsn string, isUnique func(error) bool) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlcatalog %s: DSN must not be empty", d.Name)
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog %s: open: %w", d.Name, err)
	}
	if d.Name == ddl.SQLite.Name {
		// One writer at a time; also keeps a ":memory:" database on a single connection.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlcatalog %s: ping: %w", d.Name, err)
	}
	c := &Catalog{db: db, d: d, isUnique: isUnique}
	if err := c.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Tables returns the metadata table definitions for d.
func Tables(d ddl.Dialect) []ddl.TableDef {
	return []ddl.TableDef{
		{
			FQN:         tablesTable,
			IfNotExists: true,
			Columns: []ddl.ColumnDef{
				{Name: "namespace", SQLType: d.Type("text"), PrimaryKey: true},
				{Name: "name", SQLType: d.Type("text"), PrimaryKey: true},
				{Name: "location", SQLType: d.Type("longtext")},
				{Name: "arrow_schema", SQLType: d.Type("blob")},
				{Name: "version", SQLType: d.Type("bigint"), Default: "0"},
				{Name: "data_files", SQLType: d.Type("bigint"), Default: "0"},
				{Name: "records", SQLType: d.Type("bigint"), Default: "0"},
				{Name: "updated_at", SQLType: d.Type("bigint")}, // unix nanoseconds
			},
		},
		{
			FQN:         filesTable,
			IfNotExists: true,
			Columns: []ddl.ColumnDef{
				{Name: "namespace", SQLType: d.Type("text")},
				{Name: "name", SQLType: d.Type("text")},
				{Name: "version", SQLType: d.Type("bigint")},
				{Name: "file_key", SQLType: d.Type("longtext")},
				{Name: "url", SQLType: d.Type("longtext")},
				{Name: "records", SQLType: d.Type("bigint")},
				{Name: "size", SQLType: d.Type("bigint")},
				{Name: "xxh3", SQLType: d.Type("bigint")},
			},
		},
	}
}

func (c *Catalog) bootstrap(ctx context.Context) error {
	for _, t := range Tables(c.d) {
		stmt, err := ddl.BuildCreateTableSQL(c.d, t)
		if err != nil {
			return err
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlcatalog %s: create %s: %w", c.d.Name, t.FQN, err)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Catalog) TableExists(ctx context.Context, id catalog.Ident) (bool, error) {
	return c.tableExists(ctx, c.db, id)
}

func (c *Catalog) tableExists(ctx context.Context, q queryer, id catalog.Ident) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE namespace = %s AND name = %s", c.d.Quote(tablesTable), c.d.Placeholder(1), c.d.Placeholder(2)),
		id.Namespace, id.Name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlcatalog: exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (c *Catalog) CreateTable(ctx context.Context, id catalog.Ident, schema *arrow.Schema) (*catalog.Table, error) {
	b, err := catalog.EncodeSchema(schema)
	if err != nil {
		return nil, err
	}
	_, err = c.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (namespace, name, location, arrow_schema, version, data_files, records, updated_at) VALUES (%s)",
			c.d.Quote(tablesTable), c.d.Placeholders(8)),
		id.Namespace, id.Name, catalog.Location(id), b, 0, 0, 0, time.Now().UnixNano())
	if err != nil {
		if c.isUnique != nil && c.isUnique(err) {
			return nil, fmt.Errorf("sqlcatalog: create %s: %w", id, catalog.ErrTableExists)
		}
		return nil, fmt.Errorf("sqlcatalog: create %s: %w", id, err)
	}
	return c.LoadTable(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *Catalog) loadTable(q rowScanner, id catalog.Ident) (*catalog.Table, error) {
	var (
		t       = catalog.Table{Ident: id}
		raw     []byte
		updated int64
	)
	if err := q.Scan(&t.Location, &raw, &t.Version, &t.DataFiles, &t.Records, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlcatalog: %s: %w", id, catalog.ErrNoSuchTable)
		}
		return nil, fmt.Errorf("sqlcatalog: load %s: %w", id, err)
	}
	schema, err := catalog.DecodeSchema(raw)
	if err != nil {
		return nil, err
	}
	t.Schema = schema
	t.UpdatedAt = time.Unix(0, updated)
	return &t, nil
}

func (c *Catalog) LoadTable(ctx context.Context, id catalog.Ident) (*catalog.Table, error) {
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT location, arrow_schema, version, data_files, records, updated_at FROM %s WHERE namespace = %s AND name = %s",
			c.d.Quote(tablesTable), c.d.Placeholder(1), c.d.Placeholder(2)),
		id.Namespace, id.Name)
	return c.loadTable(row, id)
}

// CommitSnapshot bumps the version only if it still equals tbl.Version, then
// records files under the new version, all in one transaction.
func (c *Catalog) CommitSnapshot(ctx context.Context, tbl *catalog.Table, files []catalog.DataFile) (*catalog.Table, error) {
	var records int64
	for _, f := range files {
		records += f.Records
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET version = version + 1, data_files = data_files + %s, records = records + %s, updated_at = %s WHERE namespace = %s AND name = %s AND version = %s",
			c.d.Quote(tablesTable), c.d.Placeholder(1), c.d.Placeholder(2), c.d.Placeholder(3), c.d.Placeholder(4), c.d.Placeholder(5), c.d.Placeholder(6)),
		int64(len(files)), records, time.Now().UnixNano(), tbl.Ident.Namespace, tbl.Ident.Name, tbl.Version)
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: commit %s: %w", tbl.Ident, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: commit %s: %w", tbl.Ident, err)
	}
	if n == 0 {
		if ok, _ := c.tableExists(ctx, tx, tbl.Ident); !ok {
			return nil, fmt.Errorf("sqlcatalog: commit %s: %w", tbl.Ident, catalog.ErrNoSuchTable)
		}
		return nil, fmt.Errorf("sqlcatalog: %s moved past version %d: %w", tbl.Ident, tbl.Version, storage.ErrCommitConflict)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (namespace, name, version, file_key, url, records, size, xxh3) VALUES (%s)",
			c.d.Quote(filesTable), c.d.Placeholders(8)))
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: prepare: %w", err)
	}
	defer stmt.Close()
	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, tbl.Ident.Namespace, tbl.Ident.Name, tbl.Version+1, f.Key, f.URL, f.Records, f.Size, int64(f.Checksum)); err != nil {
			return nil, fmt.Errorf("sqlcatalog: record %s: %w", f.Key, err)
		}
	}

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT location, arrow_schema, version, data_files, records, updated_at FROM %s WHERE namespace = %s AND name = %s",
			c.d.Quote(tablesTable), c.d.Placeholder(1), c.d.Placeholder(2)),
		tbl.Ident.Namespace, tbl.Ident.Name)
	updated, err := c.loadTable(row, tbl.Ident)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlcatalog: commit %s: %w", tbl.Ident, err)
	}
	return updated, nil
}

// Files lists the data files of id in commit order.
func (c *Catalog) Files(ctx context.Context, id catalog.Ident) ([]catalog.DataFile, error) {
	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT file_key, url, records, size, xxh3 FROM %s WHERE namespace = %s AND name = %s ORDER BY version, file_key",
			c.d.Quote(filesTable), c.d.Placeholder(1), c.d.Placeholder(2)),
		id.Namespace, id.Name)
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: files %s: %w", id, err)
	}
	defer rows.Close()
	var out []catalog.DataFile
	for rows.Next() {
		var f catalog.DataFile
		var sum int64
		if err := rows.Scan(&f.Key, &f.URL, &f.Records, &f.Size, &sum); err != nil {
			return nil, fmt.Errorf("sqlcatalog: files %s: %w", id, err)
		}
		f.Checksum = uint64(sum)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (c *Catalog) Close() error { return c.db.Close() }
