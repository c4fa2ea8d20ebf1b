// Package parquet is the file-export sink: every table is written to
// <root>/<table>/data.parquet, one row group per routed record.
package parquet

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	pq "github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"otapetl/internal/storage"
)

// Options controls the encoding of written files.
type Options struct {
	Compression string // "snappy" (default), "zstd", "gzip", "brotli", "none"
	Dictionary  bool
	Mem         memory.Allocator
}

// ParseCompression maps a codec name to its parquet codec.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("parquet: unknown compression %q", name)
	}
}

func (o Options) props() (*pq.WriterProperties, pqarrow.ArrowWriterProperties, error) {
	codec, err := ParseCompression(o.Compression)
	if err != nil {
		return nil, pqarrow.ArrowWriterProperties{}, err
	}
	mem := o.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	props := pq.NewWriterProperties(
		pq.WithAllocator(mem),
		pq.WithCompression(codec),
		pq.WithDictionaryDefault(o.Dictionary),
		pq.WithCreatedBy("otapetl"),
	)
	arrprops := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem), pqarrow.WithStoreSchema())
	return props, arrprops, nil
}

// File writes records of one schema to a single parquet file.
//
// Finish writes the footer but never closes w: publishing or discarding the
// underlying object is the caller's decision.
type File struct {
	schema *arrow.Schema
	fw     *pqarrow.FileWriter
	rows   int64
}

// writeOnly hides any Close method of the wrapped writer from pqarrow.
type writeOnly struct{ io.Writer }

func NewFile(w io.Writer, schema *arrow.Schema, o Options) (*File, error) {
	props, arrprops, err := o.props()
	if err != nil {
		return nil, err
	}
	fw, err := pqarrow.NewFileWriter(schema, writeOnly{w}, props, arrprops)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w: %w", storage.ErrWrite, err)
	}
	return &File{schema: schema, fw: fw}, nil
}

func (f *File) Schema() *arrow.Schema { return f.schema }

// Rows is the number of rows written so far.
func (f *File) Rows() int64 { return f.rows }

// Write appends rec as a row group. A record whose schema differs from the
// file's fails with storage.ErrSchemaMismatch and writes nothing.
func (f *File) Write(rec arrow.Record) error {
	if !f.schema.Equal(rec.Schema()) {
		return fmt.Errorf("parquet: %w: file has %s, record has %s", storage.ErrSchemaMismatch, f.schema, rec.Schema())
	}
	if err := f.fw.Write(rec); err != nil {
		return fmt.Errorf("parquet: %w: %w", storage.ErrWrite, err)
	}
	f.rows += rec.NumRows()
	return nil
}

// Finish flushes the last row group and the footer.
func (f *File) Finish() error {
	if err := f.fw.Close(); err != nil {
		return fmt.Errorf("parquet: %w: %w", storage.ErrWrite, err)
	}
	return nil
}
