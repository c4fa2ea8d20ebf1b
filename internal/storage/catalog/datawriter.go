package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"otapetl/internal/objstore"
	"otapetl/internal/storage"
	"otapetl/internal/storage/parquet"
)

// DataFilePrefix starts the name of every data file.
const DataFilePrefix = "otap-data"

// DefaultTargetFileRows rolls a data file once it holds this many rows.
const DefaultTargetFileRows = 1 << 20

// DataWriter writes records of one table into new data files under the
// table's location. Files are published on Close and listed for commit;
// nothing is visible to the catalog until the commit succeeds.
type DataWriter struct {
	store      objstore.Store
	tbl        *Table
	opts       parquet.Options
	targetRows int64

	cur     *openFile
	written []DataFile
	closed  bool
}

type openFile struct {
	key  string
	w    objstore.Writer
	h    *xxh3.Hasher
	n    int64
	file *parquet.File
}

func (f *openFile) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.h.Write(p[:n])
	f.n += int64(n)
	return n, err
}

func NewDataWriter(store objstore.Store, tbl *Table, o parquet.Options) *DataWriter {
	return &DataWriter{store: store, tbl: tbl, opts: o, targetRows: DefaultTargetFileRows}
}

func (d *DataWriter) newKey() string {
	loc := d.tbl.Location
	if loc == "" {
		loc = Location(d.tbl.Ident)
	}
	return path.Join(loc, "data", fmt.Sprintf("%s-%s.parquet", DataFilePrefix, uuid.NewString()))
}

// Append writes rec. Its schema must equal the table's.
func (d *DataWriter) Append(ctx context.Context, rec arrow.Record) error {
	if d.closed {
		return fmt.Errorf("catalog: %w: data writer closed", storage.ErrSinkUnavailable)
	}
	if !d.tbl.Schema.Equal(rec.Schema()) {
		return fmt.Errorf("catalog: %s: %w: table has %s, record has %s", d.tbl.Ident, storage.ErrSchemaMismatch, d.tbl.Schema, rec.Schema())
	}
	if d.cur == nil {
		key := d.newKey()
		w, err := d.store.Create(ctx, key)
		if err != nil {
			return fmt.Errorf("catalog: %w: %w", storage.ErrSinkUnavailable, err)
		}
		f := &openFile{key: key, w: w, h: xxh3.New()}
		pf, err := parquet.NewFile(f, d.tbl.Schema, d.opts)
		if err != nil {
			w.Abort()
			return err
		}
		f.file = pf
		d.cur = f
	}
	if err := d.cur.file.Write(rec); err != nil {
		return err
	}
	if d.cur.file.Rows() >= d.targetRows {
		return d.roll()
	}
	return nil
}

// roll publishes the current file.
func (d *DataWriter) roll() error {
	f := d.cur
	d.cur = nil
	if err := f.file.Finish(); err != nil {
		f.w.Abort()
		return err
	}
	if err := f.w.Close(); err != nil {
		return fmt.Errorf("catalog: %w: %w", storage.ErrWrite, err)
	}
	d.written = append(d.written, DataFile{
		URL:      d.store.URL(f.key),
		Key:      f.key,
		Records:  f.file.Rows(),
		Size:     f.n,
		Checksum: f.h.Sum64(),
	})
	return nil
}

// Close publishes the open file and returns every file written.
func (d *DataWriter) Close(context.Context) ([]DataFile, error) {
	if d.closed {
		return d.written, nil
	}
	d.closed = true
	if d.cur != nil {
		if err := d.roll(); err != nil {
			return d.written, err
		}
	}
	return d.written, nil
}

// Abort discards the open file and removes every published one. Only call
// it for files that were never committed.
func (d *DataWriter) Abort(ctx context.Context) error {
	d.closed = true
	var errs []error
	if d.cur != nil {
		d.cur.file.Finish()
		if err := d.cur.w.Abort(); err != nil {
			errs = append(errs, err)
		}
		d.cur = nil
	}
	errs = append(errs, RemoveFiles(ctx, d.store, d.written))
	d.written = nil
	return errors.Join(errs...)
}

// RemoveFiles deletes uncommitted data files.
func RemoveFiles(ctx context.Context, store objstore.Store, files []DataFile) error {
	var errs []error
	for _, f := range files {
		if err := store.Remove(ctx, f.Key); err != nil && !errors.Is(err, objstore.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		log.Printf("catalog: removed uncommitted %s", f.URL)
	}
	return errors.Join(errs...)
}

var _ io.Writer = (*openFile)(nil)
