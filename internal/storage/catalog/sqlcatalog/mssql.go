package sqlcatalog

import (
	"context"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"otapetl/internal/ddl"
	"otapetl/internal/storage/catalog"
)

func init() {
	open := func(ctx context.Context, dsn string) (catalog.Catalog, error) {
		// Validate DSN early to fail fast on obvious mistakes.
		if _, err := msdsn.Parse(dsn); err != nil {
			return nil, fmt.Errorf("sqlcatalog mssql: dsn: %w", err)
		}
		return Open(ctx, ddl.MSSQL, dsn, mssqlUnique)
	}
	catalog.RegisterBackend("mssql", open)
	catalog.RegisterBackend("sqlserver", open)
}

// mssqlUnique reports a primary key (2627) or unique index (2601) violation.
func mssqlUnique(err error) bool {
	var e mssql.Error
	return errors.As(err, &e) && (e.Number == 2627 || e.Number == 2601)
}
