// Package duckdb adds the "duckdb" engine to the query surface.
package duckdb

import (
	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" database/sql driver

	"otapetl/internal/ddl"
	"otapetl/internal/storage/query"
)

func init() {
	query.RegisterEngine("duckdb", ddl.DuckDB)
}
