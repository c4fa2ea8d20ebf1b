package sqlcatalog

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"otapetl/internal/objstore"
	"otapetl/internal/otap/sample"
	"otapetl/internal/storage"
	"otapetl/internal/storage/catalog"
)

func openMemory(t *testing.T) *Catalog {
	t.Helper()
	cat, err := catalog.Open(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat.(*Catalog)
}

func TestCreateLoadCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openMemory(t)
	id := catalog.Ident{Namespace: "otap", Name: "logs"}

	if ok, err := c.TableExists(ctx, id); err != nil || ok {
		t.Fatalf("TableExists = %v, %v; want false", ok, err)
	}
	tbl, err := c.CreateTable(ctx, id, sample.LogsSchema)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if !tbl.Schema.Equal(sample.LogsSchema) || tbl.Version != 0 || tbl.Location != "otap/logs" {
		t.Fatalf("created table = %+v", tbl)
	}
	if _, err := c.CreateTable(ctx, id, sample.LogsSchema); !errors.Is(err, catalog.ErrTableExists) {
		t.Fatalf("second CreateTable = %v, want ErrTableExists", err)
	}

	files := []catalog.DataFile{
		{Key: "otap/logs/data/a.parquet", URL: "file:///w/otap/logs/data/a.parquet", Records: 3, Size: 100, Checksum: 1<<63 + 5},
		{Key: "otap/logs/data/b.parquet", URL: "file:///w/otap/logs/data/b.parquet", Records: 2, Size: 90, Checksum: 7},
	}
	updated, err := c.CommitSnapshot(ctx, tbl, files)
	if err != nil {
		t.Fatalf("CommitSnapshot: %v", err)
	}
	if updated.Version != 1 || updated.DataFiles != 2 || updated.Records != 5 {
		t.Fatalf("updated = %+v", updated)
	}

	// A commit against the pre-commit snapshot must conflict.
	if _, err := c.CommitSnapshot(ctx, tbl, files[:1]); !errors.Is(err, storage.ErrCommitConflict) {
		t.Fatalf("stale CommitSnapshot = %v, want ErrCommitConflict", err)
	}

	got, err := c.Files(ctx, id)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if diff := cmp.Diff(files, got); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}

	loaded, err := c.LoadTable(ctx, id)
	if err != nil || loaded.Version != 1 {
		t.Fatalf("LoadTable = %+v, %v", loaded, err)
	}
	if _, err := c.LoadTable(ctx, catalog.Ident{Namespace: "otap", Name: "nope"}); !errors.Is(err, catalog.ErrNoSuchTable) {
		t.Fatalf("LoadTable(missing) = %v, want ErrNoSuchTable", err)
	}
}

func TestSinkOverSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openMemory(t)
	store, err := objstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	s := catalog.NewSink(c, store, catalog.SinkOptions{Namespace: "otap"})

	for _, ids := range [][]uint16{{1, 2}, {3}} {
		rec := sample.Logs(memory.DefaultAllocator, ids)
		if err := s.Write(ctx, "logs", rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
		rec.Release()
	}
	tbl, err := c.LoadTable(ctx, catalog.Ident{Namespace: "otap", Name: "logs"})
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Version != 2 || tbl.Records != 3 {
		t.Fatalf("table = %+v", tbl)
	}
	files, _ := c.Files(ctx, tbl.Ident)
	for _, f := range files {
		info, err := store.Stat(ctx, f.Key)
		if err != nil || info.Size != f.Size {
			t.Fatalf("Stat(%s) = %+v, %v; want size %d", f.Key, info, err, f.Size)
		}
	}
}

func TestBackendsRegistered(t *testing.T) {
	t.Parallel()

	want := []string{"mssql", "mysql", "pgx", "postgres", "sqlite", "sqlserver"}
	got := catalog.Backends()
	for _, w := range want {
		found := false
		for _, g := range got {
			found = found || g == w
		}
		if !found {
			t.Fatalf("backend %q not registered in %v", w, got)
		}
	}
	if _, err := catalog.Open(context.Background(), "mysql", "::bad dsn::"); err == nil {
		t.Fatalf("Open(mysql, bad dsn) error = nil")
	}
}
