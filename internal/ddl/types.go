package ddl

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, BIGINT, TIMESTAMPTZ)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g., 0, CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name and an ordered list of columns. FQN may be
// schema-qualified ("schema.table"); each dotted part is quoted separately.
// Set Unqualified when the name itself contains dots.
type TableDef struct {
	FQN         string
	Columns     []ColumnDef
	IfNotExists bool
	Unqualified bool
}
