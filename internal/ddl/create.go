// Package ddl defines a small model for SQL DDL and renders it for the
// dialects the sinks and catalog backends speak (sqlite, postgres, mysql,
// mssql, duckdb).
//
// Identifiers are always quoted; ColumnDef.Default is emitted as raw SQL and
// the caller is responsible for its dialect correctness.
package ddl

import (
	"fmt"
	"strings"
)

// BuildCreateTableSQL renders a CREATE TABLE statement for d.
//
//   - t.FQN must be non-empty.
//
//   - Each column must have a non-empty Name and SQLType and is rendered as
//
//     <Name> <SQLType> [NOT NULL] [DEFAULT <Default>]
//
//   - Columns with PrimaryKey == true form a trailing PRIMARY KEY clause.
//
//   - IfNotExists makes the statement a no-op for an existing table. SQL
//     Server has no IF NOT EXISTS, so the CREATE is wrapped in an
//     IF OBJECT_ID(...) IS NULL block.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.Quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.Quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	name := d.tableName(t)
	body := strings.Join(cols, ",\n  ")
	switch {
	case !t.IfNotExists:
		return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", name, body), nil
	case d.Name == MSSQL.Name:
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n  %s\n  );\nEND;",
			strings.ReplaceAll(name, "'", "''"), name, body), nil
	default:
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", name, body), nil
	}
}

// DropTableSQL renders an idempotent DROP TABLE for t.
func DropTableSQL(d Dialect, t TableDef) string {
	name := d.tableName(t)
	if d.Name == MSSQL.Name {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", strings.ReplaceAll(name, "'", "''"), name)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", name)
}

func (d Dialect) tableName(t TableDef) string {
	if t.Unqualified {
		return d.Quote(strings.TrimSpace(t.FQN))
	}
	return d.QuoteFQN(t.FQN)
}
