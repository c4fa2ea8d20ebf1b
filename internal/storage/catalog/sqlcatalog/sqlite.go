package sqlcatalog

import (
	"context"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"otapetl/internal/ddl"
	"otapetl/internal/storage/catalog"
)

func init() {
	catalog.RegisterBackend("sqlite", func(ctx context.Context, dsn string) (catalog.Catalog, error) {
		return Open(ctx, ddl.SQLite, dsn, sqliteUnique)
	})
}

func sqliteUnique(err error) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
