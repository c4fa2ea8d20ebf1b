package ddl

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Kind maps an Arrow type to the logical kind used by Dialect.Type.
// Dictionary columns take the kind of their values. Nested types have no
// scalar kind and report ok == false.
func Kind(dt arrow.DataType) (kind string, ok bool) {
	switch dt.ID() {
	case arrow.INT8:
		return "tinyint", true
	case arrow.INT16:
		return "smallint", true
	case arrow.INT32:
		return "int", true
	case arrow.INT64:
		return "bigint", true
	case arrow.UINT8:
		return "utinyint", true
	case arrow.UINT16:
		return "usmallint", true
	case arrow.UINT32:
		return "uint", true
	case arrow.UINT64:
		return "ubigint", true
	case arrow.FLOAT16, arrow.FLOAT32:
		return "float", true
	case arrow.FLOAT64:
		return "double", true
	case arrow.BOOL:
		return "bool", true
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return "text", true
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.BINARY_VIEW, arrow.FIXED_SIZE_BINARY:
		return "blob", true
	case arrow.TIMESTAMP:
		return "timestamp", true
	case arrow.DATE32, arrow.DATE64:
		return "date", true
	case arrow.DICTIONARY:
		return Kind(dt.(*arrow.DictionaryType).ValueType)
	default:
		return "", false
	}
}

// Column is one flattened scalar column of an Arrow schema. Path holds the
// field indexes from the top-level field down through nested structs.
type Column struct {
	Name     string
	Path     []int
	Type     arrow.DataType
	Kind     string // "" for list, map and union values, rendered as JSON text
	Nullable bool
}

// Flatten expands struct fields into "<parent>.<child>" columns, in schema
// order.
func Flatten(schema *arrow.Schema) []Column {
	var out []Column
	for i, f := range schema.Fields() {
		out = flatten(out, f, f.Name, []int{i}, f.Nullable)
	}
	return out
}

func flatten(out []Column, f arrow.Field, name string, path []int, nullable bool) []Column {
	if st, ok := f.Type.(*arrow.StructType); ok {
		for j, child := range st.Fields() {
			p := append(append([]int(nil), path...), j)
			out = flatten(out, child, name+"."+child.Name, p, nullable || child.Nullable)
		}
		return out
	}
	kind, _ := Kind(f.Type)
	return append(out, Column{Name: name, Path: path, Type: f.Type, Kind: kind, Nullable: nullable})
}

// FromSchema derives a table definition for the flattened columns of
// schema. Every column is nullable: a parent struct may be null even where
// the leaf is not.
func FromSchema(d Dialect, table string, schema *arrow.Schema) (TableDef, error) {
	cols := Flatten(schema)
	if len(cols) == 0 {
		return TableDef{}, fmt.Errorf("ddl: %s: schema has no columns", table)
	}
	def := TableDef{FQN: table, Unqualified: true, Columns: make([]ColumnDef, len(cols))}
	for i, c := range cols {
		def.Columns[i] = ColumnDef{Name: c.Name, SQLType: d.Type(c.Kind), Nullable: true}
	}
	return def, nil
}
