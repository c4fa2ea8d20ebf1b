package sqlcatalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"otapetl/internal/ddl"
	"otapetl/internal/storage/catalog"
)

func init() {
	catalog.RegisterBackend("mysql", func(ctx context.Context, dsn string) (catalog.Catalog, error) {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("sqlcatalog mysql: dsn: %w", err)
		}
		return Open(ctx, ddl.MySQL, dsn, mysqlUnique)
	})
}

// mysqlUnique reports ER_DUP_ENTRY.
func mysqlUnique(err error) bool {
	var e *mysql.MySQLError
	return errors.As(err, &e) && e.Number == 1062
}
