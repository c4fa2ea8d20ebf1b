package sqlcatalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"otapetl/internal/ddl"
	"otapetl/internal/storage/catalog"
)

func init() {
	open := func(ctx context.Context, dsn string) (catalog.Catalog, error) {
		return Open(ctx, ddl.Postgres, dsn, postgresUnique)
	}
	catalog.RegisterBackend("postgres", open)
	catalog.RegisterBackend("pgx", open)
}

// postgresUnique reports a unique_violation (SQLSTATE 23505).
func postgresUnique(err error) bool {
	var e *pgconn.PgError
	return errors.As(err, &e) && e.Code == "23505"
}
