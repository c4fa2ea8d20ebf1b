// Package all wires every built-in sink and catalog backend into the
// registries. Importing it, even as a blank import, runs their init
// functions:
//
//   - sinks: "query", "parquet", "catalog"
//   - query engines: "sqlite" (default), "duckdb"
//   - catalog backends: "sqlite", "postgres"/"pgx", "mysql", "mssql"/"sqlserver", "bolt"
//
// Typical usage (in cmd/otapetl/main.go):
//
//	import _ "otapetl/internal/storage/all"
//
//	sink, err := storage.New(ctx, storage.Config{Kind: "parquet", Root: "out"})
package all

import (
	_ "otapetl/internal/storage/catalog"
	_ "otapetl/internal/storage/catalog/boltcatalog"
	_ "otapetl/internal/storage/catalog/sqlcatalog"
	_ "otapetl/internal/storage/parquet"
	_ "otapetl/internal/storage/query"
	_ "otapetl/internal/storage/query/duckdb"
)
