package ddl

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect is the SQL flavour of one database/sql driver: identifier
// quoting, bind placeholders, and the column type for each logical kind.
type Dialect struct {
	Name   string
	Driver string // database/sql driver name

	open, close string // identifier quotes
	dollar      bool   // $1, $2 ...
	at          bool   // @p1, @p2 ...
	types       map[string]string
}

var (
	SQLite = Dialect{
		Name: "sqlite", Driver: "sqlite", open: `"`, close: `"`,
		types: map[string]string{
			"tinyint": "INTEGER", "smallint": "INTEGER", "int": "INTEGER", "bigint": "INTEGER",
			"utinyint": "INTEGER", "usmallint": "INTEGER", "uint": "INTEGER", "ubigint": "INTEGER",
			"float": "REAL", "double": "REAL", "bool": "INTEGER",
			"text": "TEXT", "longtext": "TEXT", "blob": "BLOB", "timestamp": "TEXT", "date": "TEXT",
		},
	}
	Postgres = Dialect{
		Name: "postgres", Driver: "pgx", open: `"`, close: `"`, dollar: true,
		types: map[string]string{
			"tinyint": "SMALLINT", "smallint": "SMALLINT", "int": "INTEGER", "bigint": "BIGINT",
			"utinyint": "SMALLINT", "usmallint": "INTEGER", "uint": "BIGINT", "ubigint": "NUMERIC(20)",
			"float": "REAL", "double": "DOUBLE PRECISION", "bool": "BOOLEAN",
			"text": "TEXT", "longtext": "TEXT", "blob": "BYTEA", "timestamp": "TIMESTAMPTZ", "date": "DATE",
		},
	}
	MySQL = Dialect{
		Name: "mysql", Driver: "mysql", open: "`", close: "`",
		types: map[string]string{
			"tinyint": "TINYINT", "smallint": "SMALLINT", "int": "INT", "bigint": "BIGINT",
			"utinyint": "TINYINT UNSIGNED", "usmallint": "SMALLINT UNSIGNED", "uint": "INT UNSIGNED", "ubigint": "BIGINT UNSIGNED",
			"float": "FLOAT", "double": "DOUBLE", "bool": "BOOLEAN",
			// VARCHAR so the column can be part of a key.
			"text": "VARCHAR(255)", "longtext": "TEXT", "blob": "LONGBLOB", "timestamp": "DATETIME(6)", "date": "DATE",
		},
	}
	MSSQL = Dialect{
		Name: "mssql", Driver: "sqlserver", open: "[", close: "]", at: true,
		types: map[string]string{
			"tinyint": "SMALLINT", "smallint": "SMALLINT", "int": "INT", "bigint": "BIGINT",
			"utinyint": "TINYINT", "usmallint": "INT", "uint": "BIGINT", "ubigint": "DECIMAL(20, 0)",
			"float": "REAL", "double": "FLOAT", "bool": "BIT",
			"text": "NVARCHAR(255)", "longtext": "NVARCHAR(MAX)", "blob": "VARBINARY(MAX)", "timestamp": "DATETIME2", "date": "DATE",
		},
	}
	DuckDB = Dialect{
		Name: "duckdb", Driver: "duckdb", open: `"`, close: `"`, dollar: true,
		types: map[string]string{
			"tinyint": "TINYINT", "smallint": "SMALLINT", "int": "INTEGER", "bigint": "BIGINT",
			"utinyint": "UTINYINT", "usmallint": "USMALLINT", "uint": "UINTEGER", "ubigint": "UBIGINT",
			"float": "FLOAT", "double": "DOUBLE", "bool": "BOOLEAN",
			"text": "VARCHAR", "longtext": "VARCHAR", "blob": "BLOB", "timestamp": "TIMESTAMP", "date": "DATE",
		},
	}
)

var dialects = map[string]Dialect{
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgx":        Postgres,
	"mysql":      MySQL,
	"mssql":      MSSQL,
	"sqlserver":  MSSQL,
	"duckdb":     DuckDB,
}

// Lookup returns the dialect registered under name or one of its aliases.
func Lookup(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Dialect{}, fmt.Errorf("ddl: unknown dialect %q", name)
	}
	return d, nil
}

// Type maps a logical kind (e.g. "bigint", "text", "timestamp") to the
// dialect's column type. Unknown kinds fall back to the text type.
func (d Dialect) Type(kind string) string {
	if t, ok := d.types[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return t
	}
	return d.types["text"]
}

// Quote quotes one identifier segment, escaping the closing quote.
//
//	name      -> "name"   (sqlite, postgres, duckdb)
//	weird]id  -> [weird]]id]   (mssql)
func (d Dialect) Quote(id string) string {
	return d.open + strings.ReplaceAll(id, d.close, d.close+d.close) + d.close
}

// QuoteFQN quotes a possibly schema-qualified name part by part.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// Placeholder is the i-th (1-based) bind parameter.
func (d Dialect) Placeholder(i int) string {
	switch {
	case d.dollar:
		return "$" + strconv.Itoa(i)
	case d.at:
		return "@p" + strconv.Itoa(i)
	default:
		return "?"
	}
}

// Placeholders renders n comma-separated bind parameters starting at 1.
func (d Dialect) Placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}
