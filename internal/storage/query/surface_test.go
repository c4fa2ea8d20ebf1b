package query

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"otapetl/internal/otap/otaptest"
	"otapetl/internal/otap/sample"
	"otapetl/internal/storage"
)

func openSurface(t *testing.T) *Surface {
	t.Helper()
	s, err := Open(context.Background(), "", "", memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func queryOne(t *testing.T, s *Surface, q string) arrow.Record {
	t.Helper()
	recs, err := s.Execute(context.Background(), q)
	if err != nil {
		t.Fatalf("Execute(%q): %v", q, err)
	}
	if len(recs) != 1 {
		t.Fatalf("Execute(%q) returned %d records", q, len(recs))
	}
	t.Cleanup(recs[0].Release)
	return recs[0]
}

func TestRegisterSameNameKeepsLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSurface(t)
	first := sample.Logs(memory.DefaultAllocator, []uint16{1, 2, 3})
	defer first.Release()
	second := sample.Logs(memory.DefaultAllocator, []uint16{7, 8})
	defer second.Release()

	if err := s.Register(ctx, "logs", first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, "logs", second); err != nil {
		t.Fatalf("second Register: %v", err)
	}

	rec := queryOne(t, s, `SELECT id FROM logs ORDER BY id`)
	if diff := cmp.Diff([]int64{7, 8}, rec.Column(0).(*array.Int64).Int64Values()); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	n := queryOne(t, s, `SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name = 'logs'`)
	if got := n.Column(0).(*array.Int64).Value(0); got != 1 {
		t.Fatalf("registrations = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"logs"}, s.Tables()); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterFlattensStructs(t *testing.T) {
	t.Parallel()

	s := openSurface(t)
	logs := sample.Logs(memory.DefaultAllocator, []uint16{5, 6})
	defer logs.Release()
	if err := s.Register(context.Background(), "logs", logs); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := queryOne(t, s, `SELECT "body.str", "body.type", severity_text FROM logs ORDER BY id`)
	if diff := cmp.Diff([]string{"log line 0", "log line 1"}, otaptest.Strings(t, rec, "body.str")); diff != "" {
		t.Fatalf("body.str mismatch (-want +got):\n%s", diff)
	}
	if rec.Schema().Field(1).Type.ID() != arrow.INT64 {
		t.Fatalf("body.type type = %s, want int64", rec.Schema().Field(1).Type)
	}
}

func TestRegisterDictionaryAndNulls(t *testing.T) {
	t.Parallel()

	mem := memory.DefaultAllocator
	dictType := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint8, ValueType: arrow.BinaryTypes.String}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "parent_id", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
		{Name: "key", Type: dictType, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Uint16Builder).AppendValues([]uint16{1, 0, 2}, []bool{true, false, true})
	kb := b.Field(1).(*array.BinaryDictionaryBuilder)
	kb.AppendString("http.method")
	kb.AppendNull()
	kb.AppendString("http.method")
	rec := b.NewRecord()
	defer rec.Release()

	s := openSurface(t)
	if err := s.Register(context.Background(), "logattrs", rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := queryOne(t, s, `SELECT parent_id, key FROM logattrs ORDER BY rowid`)
	if diff := cmp.Diff([]int{1, -1, 2}, int64s(got.Column(0))); diff != "" {
		t.Fatalf("parent_id mismatch (-want +got):\n%s", diff)
	}
	keys := got.Column(1).(*array.String)
	if keys.Value(0) != "http.method" || !keys.IsNull(1) {
		t.Fatalf("keys = %v", keys)
	}
}

func int64s(arr arrow.Array) []int {
	a := arr.(*array.Int64)
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

func TestExecuteErrorsAndEmptyResult(t *testing.T) {
	t.Parallel()

	s := openSurface(t)
	if _, err := s.Execute(context.Background(), `SELECT * FROM nope`); err == nil {
		t.Fatalf("Execute(missing table) error = nil")
	}
	rec := queryOne(t, s, `SELECT 1 AS one WHERE 1 = 0`)
	if rec.NumRows() != 0 || rec.Schema().Field(0).Name != "one" {
		t.Fatalf("empty result = %v", rec)
	}
	if _, err := Open(context.Background(), "oracle", "", nil); err == nil {
		t.Fatalf("Open(oracle) error = nil")
	}
}

func TestSinkLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, err := storage.New(ctx, storage.Config{Kind: "query"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	qs := sink.(*Sink)
	defer qs.Surface().Close()

	logs := sample.Logs(memory.DefaultAllocator, []uint16{1})
	defer logs.Release()
	if err := sink.Write(ctx, "logs", logs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Write(ctx, "logs", logs); !errors.Is(err, storage.ErrSinkUnavailable) {
		t.Fatalf("Write after Close = %v", err)
	}
	// Still queryable after Close.
	rec := queryOne(t, qs.Surface(), `SELECT COUNT(*) FROM logs`)
	if rec.Column(0).(*array.Int64).Value(0) != 1 {
		t.Fatalf("count = %v", rec.Column(0))
	}
}
