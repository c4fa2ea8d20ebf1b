// Package otaptest holds test helpers for building Arrow tables, IPC streams
// and containers.
package otaptest

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/otap"
	"otapetl/internal/otap/sample"
)

// Allocator returns a checked allocator that fails t if anything allocated
// through it is still live when the test ends.
func Allocator(t testing.TB) *memory.CheckedAllocator {
	t.Helper()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { mem.AssertSize(t, 0) })
	return mem
}

// Stream encodes recs as one IPC stream and releases them.
func Stream(t testing.TB, mem memory.Allocator, recs ...arrow.Record) []byte {
	t.Helper()
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	b, err := sample.EncodeStream(mem, recs...)
	if err != nil {
		t.Fatalf("EncodeStream: %v", err)
	}
	return b
}

// Payload wraps recs into a payload of the given type.
func Payload(t testing.TB, mem memory.Allocator, schemaID string, typ otap.PayloadType, recs ...arrow.Record) otap.Payload {
	t.Helper()
	return otap.Payload{SchemaID: schemaID, Type: typ, Record: Stream(t, mem, recs...)}
}

// Uint16Record builds a single-column record; nil entries in vals are nulls.
func Uint16Record(mem memory.Allocator, name string, vals ...*uint16) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Uint16, Nullable: true}}, nil)
	b := array.NewUint16Builder(mem)
	defer b.Release()
	for _, v := range vals {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(*v)
	}
	col := b.NewArray()
	defer col.Release()
	return array.NewRecord(schema, []arrow.Array{col}, int64(len(vals)))
}

// U16 is a convenience for building optional values.
func U16(v uint16) *uint16 { return &v }

// Uint16s returns column name of rec as a slice; nulls become -1.
func Uint16s(t testing.TB, rec arrow.Record, name string) []int {
	t.Helper()
	col := Column(t, rec, name)
	a, ok := col.(*array.Uint16)
	if !ok {
		t.Fatalf("column %q is %s, want uint16", name, col.DataType())
	}
	out := make([]int, a.Len())
	for i := range out {
		if a.IsNull(i) {
			out[i] = -1
			continue
		}
		out[i] = int(a.Value(i))
	}
	return out
}

// Strings returns a string column of rec.
func Strings(t testing.TB, rec arrow.Record, name string) []string {
	t.Helper()
	col := Column(t, rec, name)
	a, ok := col.(*array.String)
	if !ok {
		t.Fatalf("column %q is %s, want utf8", name, col.DataType())
	}
	out := make([]string, a.Len())
	for i := range out {
		out[i] = a.Value(i)
	}
	return out
}

// Column looks up a top-level column by name.
func Column(t testing.TB, rec arrow.Record, name string) arrow.Array {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		t.Fatalf("record has no column %q (schema %s)", name, rec.Schema())
	}
	return rec.Column(idx[0])
}
