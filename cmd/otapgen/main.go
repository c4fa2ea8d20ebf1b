package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"

	"otapetl/internal/datasource"
	"otapetl/internal/otap/sample"
	"otapetl/internal/parser/container"
)

// genOptions describe the containers written by generate.
type genOptions struct {
	Sample     sample.Options
	Format     string // proto|jsonl
	Zstd       bool
	Containers int
}

// main writes synthetic OTAP containers for exercising cmd/otapetl and
// cmd/otapprobe: delta-encoded log ids, shuffled attribute rows and
// optionally fragmented Logs payloads.
func main() {
	var (
		flagOut        = flag.String("out", "", "Output file (default: stdout)")
		flagFormat     = flag.String("format", datasource.FormatProto, "Container format: proto|jsonl")
		flagZstd       = flag.Bool("zstd", false, "zstd-compress the output")
		flagContainers = flag.Int("containers", 1, "Number of containers (jsonl only for more than one)")
		flagBatchID    = flag.Int64("batch-id", 1, "Batch id of the first container")
		flagRows       = flag.Int("rows", 8, "Log rows per fragment")
		flagAttrs      = flag.Int("attrs", 2, "LogAttrs rows per log row")
		flagStartID    = flag.Int("start-id", 0, "First log id")
		flagFragments  = flag.Int("fragments", 1, "Logs fragments per container")
		flagShuffle    = flag.Bool("shuffle", true, "Shuffle attribute rows")
		flagSeed       = flag.Uint64("seed", 1, "Shuffle seed")
	)
	flag.Parse()

	if *flagStartID < 0 || *flagStartID > 0xffff {
		log.Fatalf("-start-id %d out of range", *flagStartID)
	}

	var w io.Writer = os.Stdout
	if *flagOut != "" {
		f, err := os.Create(*flagOut)
		if err != nil {
			log.Fatalf("create %s: %v", *flagOut, err)
		}
		defer f.Close()
		w = f
	}

	err := generate(w, genOptions{
		Sample: sample.Options{
			BatchID:   *flagBatchID,
			Rows:      *flagRows,
			AttrsPer:  *flagAttrs,
			StartID:   uint16(*flagStartID),
			Shuffle:   *flagShuffle,
			Fragments: *flagFragments,
			Seed:      *flagSeed,
		},
		Format:     *flagFormat,
		Zstd:       *flagZstd,
		Containers: *flagContainers,
	})
	if err != nil {
		log.Fatalf("otapgen: %v", err)
	}
}

// generate writes o.Containers containers to w. Batch ids increase by one
// per container.
func generate(w io.Writer, o genOptions) error {
	if o.Containers <= 0 {
		o.Containers = 1
	}
	switch o.Format {
	case datasource.FormatProto:
		if o.Containers > 1 {
			return errors.New("a proto file holds one container; use -format jsonl")
		}
	case datasource.FormatJSONL:
	default:
		return fmt.Errorf("unsupported format %q", o.Format)
	}

	var zw *zstd.Encoder
	if o.Zstd {
		var err error
		if zw, err = zstd.NewWriter(w); err != nil {
			return err
		}
		w = zw
	}

	mem := memory.NewGoAllocator()
	for i := 0; i < o.Containers; i++ {
		so := o.Sample
		so.BatchID += int64(i)
		c, err := sample.Batch(mem, so)
		if err != nil {
			return err
		}
		var b []byte
		if o.Format == datasource.FormatJSONL {
			if b, err = container.EncodeJSON(c); err != nil {
				return err
			}
			b = append(b, '\n')
		} else {
			b = container.Encode(c)
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}
