package query

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// BatchRows caps the rows per returned record.
const BatchRows = 4096

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// declType maps a driver column type name to an Arrow type, or nil when the
// name says nothing (expressions in sqlite have no declared type).
func declType(name string) arrow.DataType {
	n := strings.ToUpper(name)
	switch {
	case n == "":
		return nil
	case strings.Contains(n, "INT"):
		return arrow.PrimitiveTypes.Int64
	case strings.Contains(n, "REAL"), strings.Contains(n, "DOUBLE"), strings.Contains(n, "FLOAT"),
		strings.Contains(n, "DECIMAL"), strings.Contains(n, "NUMERIC"):
		return arrow.PrimitiveTypes.Float64
	case strings.Contains(n, "BOOL"):
		return arrow.FixedWidthTypes.Boolean
	case strings.Contains(n, "BLOB"), strings.Contains(n, "BINARY"), n == "BYTEA":
		return arrow.BinaryTypes.Binary
	case strings.Contains(n, "TIMESTAMP"), strings.Contains(n, "DATETIME"), n == "DATE":
		return timestampType
	default:
		return arrow.BinaryTypes.String
	}
}

// valueType infers an Arrow type from a scanned value.
func valueType(v any) arrow.DataType {
	switch v.(type) {
	case int64, int32, int:
		return arrow.PrimitiveTypes.Int64
	case float64, float32:
		return arrow.PrimitiveTypes.Float64
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case []byte:
		return arrow.BinaryTypes.Binary
	case time.Time:
		return timestampType
	default:
		return arrow.BinaryTypes.String
	}
}

// readRecords drains rows into records of at most BatchRows rows. Column
// types come from the driver's declared types; undeclared columns take the
// type of their first non-null value and default to string.
func readRecords(mem memory.Allocator, rows *sql.Rows) ([]arrow.Record, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	types := make([]arrow.DataType, len(cts))
	for i, ct := range cts {
		types[i] = declType(ct.DatabaseTypeName())
	}

	var (
		out    []arrow.Record
		buf    [][]any
		schema *arrow.Schema
	)
	flush := func() {
		if schema == nil {
			schema = buildSchema(cts, types, buf)
		}
		out = append(out, buildRecord(mem, schema, buf))
		buf = buf[:0]
	}
	for rows.Next() {
		vals := make([]any, len(cts))
		ptrs := make([]any, len(cts))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			release(out)
			return nil, err
		}
		buf = append(buf, vals)
		if len(buf) == BatchRows {
			flush()
		}
	}
	if err := rows.Err(); err != nil {
		release(out)
		return nil, err
	}
	if len(buf) > 0 || len(out) == 0 {
		flush()
	}
	return out, nil
}

func buildSchema(cts []*sql.ColumnType, types []arrow.DataType, rows [][]any) *arrow.Schema {
	fields := make([]arrow.Field, len(cts))
	for i, ct := range cts {
		dt := types[i]
		for _, r := range rows {
			if dt != nil {
				break
			}
			if r[i] != nil {
				dt = valueType(r[i])
			}
		}
		if dt == nil {
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: ct.Name(), Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func buildRecord(mem memory.Allocator, schema *arrow.Schema, rows [][]any) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, r := range rows {
		for i, v := range r {
			appendValue(b.Field(i), v)
		}
	}
	return b.NewRecord()
}

func appendValue(fb array.Builder, v any) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch b := fb.(type) {
	case *array.Int64Builder:
		switch x := v.(type) {
		case int64:
			b.Append(x)
		case int32:
			b.Append(int64(x))
		case int:
			b.Append(int64(x))
		case bool:
			if x {
				b.Append(1)
			} else {
				b.Append(0)
			}
		default:
			b.AppendNull()
		}
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			b.Append(x)
		case float32:
			b.Append(float64(x))
		case int64:
			b.Append(float64(x))
		default:
			b.AppendNull()
		}
	case *array.BooleanBuilder:
		switch x := v.(type) {
		case bool:
			b.Append(x)
		case int64:
			b.Append(x != 0)
		default:
			b.AppendNull()
		}
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			b.Append(x)
		case string:
			b.AppendString(x)
		default:
			b.AppendNull()
		}
	case *array.TimestampBuilder:
		switch x := v.(type) {
		case time.Time:
			b.AppendTime(x)
		default:
			b.AppendNull()
		}
	case *array.StringBuilder:
		switch x := v.(type) {
		case string:
			b.Append(x)
		case []byte:
			b.Append(string(x))
		case time.Time:
			b.Append(x.UTC().Format(time.RFC3339Nano))
		default:
			b.Append(fmt.Sprint(x))
		}
	default:
		fb.AppendNull()
	}
}

func release(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}
