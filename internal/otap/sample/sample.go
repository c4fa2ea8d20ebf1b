// Package sample builds small OTAP logs batches: a Logs table with a
// delta-encoded UInt16 id column plus its attribute tables, each encoded as
// an Arrow IPC stream and wrapped in a container. It backs cmd/otapgen and
// the package tests.
package sample

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/otap"
)

var (
	LogsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
		{Name: "severity_text", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "body", Type: arrow.StructOf(
			arrow.Field{Name: "type", Type: arrow.PrimitiveTypes.Uint8},
			arrow.Field{Name: "str", Type: arrow.BinaryTypes.String, Nullable: true},
		), Nullable: true},
	}, nil)

	AttrsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "parent_id", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
		{Name: "key", Type: arrow.BinaryTypes.String},
		{Name: "str", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
)

// Logs builds a Logs record with the given id column (already delta-encoded
// or not, as the caller decides).
func Logs(mem memory.Allocator, ids []uint16) arrow.Record {
	b := array.NewRecordBuilder(mem, LogsSchema)
	defer b.Release()

	b.Field(0).(*array.Uint16Builder).AppendValues(ids, nil)
	sev := b.Field(1).(*array.StringBuilder)
	body := b.Field(2).(*array.StructBuilder)
	bodyType := body.FieldBuilder(0).(*array.Uint8Builder)
	bodyStr := body.FieldBuilder(1).(*array.StringBuilder)
	for i := range ids {
		sev.Append(severities[i%len(severities)])
		body.Append(true)
		bodyType.Append(1)
		bodyStr.Append(fmt.Sprintf("log line %d", i))
	}
	return b.NewRecord()
}

var severities = []string{"INFO", "WARN", "ERROR", "DEBUG"}

// Attrs builds an attribute table. valid marks which parent ids are non-null;
// nil means all of them.
func Attrs(mem memory.Allocator, parentIDs []uint16, valid []bool, keys []string) arrow.Record {
	b := array.NewRecordBuilder(mem, AttrsSchema)
	defer b.Release()

	b.Field(0).(*array.Uint16Builder).AppendValues(parentIDs, valid)
	k := b.Field(1).(*array.StringBuilder)
	v := b.Field(2).(*array.StringBuilder)
	for i := range parentIDs {
		key := fmt.Sprintf("attr.%d", i)
		if i < len(keys) {
			key = keys[i]
		}
		k.Append(key)
		v.Append(fmt.Sprintf("value-%d", i))
	}
	return b.NewRecord()
}

// EncodeStream writes recs as one Arrow IPC stream. All records must share
// the schema of the first. With no records it writes nothing.
func EncodeStream(mem memory.Allocator, recs ...arrow.Record) ([]byte, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(recs[0].Schema()), ipc.WithAllocator(mem))
	for i, rec := range recs {
		if err := w.Write(rec); err != nil {
			w.Close()
			return nil, fmt.Errorf("sample: write fragment %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sample: close stream: %w", err)
	}
	return buf.Bytes(), nil
}

// DeltaEncode returns the successive differences of ids. It is the inverse
// of the normalizer's delta decoding.
func DeltaEncode(ids []uint16) []uint16 {
	out := make([]uint16, len(ids))
	var prev uint16
	for i, v := range ids {
		out[i] = v - prev
		prev = v
	}
	return out
}

// Options controls Batch.
type Options struct {
	BatchID   int64
	Rows      int    // log rows
	AttrsPer  int    // LogAttrs rows per log row
	StartID   uint16 // first log id
	Shuffle   bool   // shuffle child parent ids
	Fragments int    // Logs fragments; ids continue across fragments
	Seed      uint64
}

// Batch builds a container carrying Logs, LogAttrs, ResourceAttrs and
// ScopeAttrs payloads.
func Batch(mem memory.Allocator, o Options) (*otap.Container, error) {
	if o.Rows <= 0 {
		o.Rows = 8
	}
	if o.AttrsPer <= 0 {
		o.AttrsPer = 2
	}
	if o.Fragments <= 0 {
		o.Fragments = 1
	}
	if int(o.StartID)+o.Rows*o.Fragments > 1<<16 {
		return nil, fmt.Errorf("sample: %d rows from id %d overflow uint16", o.Rows*o.Fragments, o.StartID)
	}
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))

	var logs []arrow.Record
	defer func() {
		for _, r := range logs {
			r.Release()
		}
	}()
	var parents []uint16
	next := o.StartID
	for f := 0; f < o.Fragments; f++ {
		ids := make([]uint16, o.Rows)
		for i := range ids {
			ids[i] = next
			next++
		}
		parents = append(parents, ids...)
		// Each fragment restarts its delta chain.
		logs = append(logs, Logs(mem, DeltaEncode(ids)))
	}
	logBytes, err := EncodeStream(mem, logs...)
	if err != nil {
		return nil, err
	}

	child := func(typ otap.PayloadType, perParent int) ([]byte, error) {
		var pids []uint16
		for _, p := range parents {
			for j := 0; j < perParent; j++ {
				pids = append(pids, p)
			}
		}
		if o.Shuffle {
			rng.Shuffle(len(pids), func(i, j int) { pids[i], pids[j] = pids[j], pids[i] })
		}
		keys := make([]string, len(pids))
		for i := range keys {
			keys[i] = fmt.Sprintf("%s.%d", typ.TableName(), i)
		}
		rec := Attrs(mem, pids, nil, keys)
		defer rec.Release()
		return EncodeStream(mem, rec)
	}

	c := &otap.Container{BatchID: o.BatchID}
	c.Payloads = append(c.Payloads, otap.Payload{SchemaID: "0", Type: otap.Logs, Record: logBytes})
	for i, spec := range []struct {
		typ otap.PayloadType
		per int
	}{
		{otap.LogAttrs, o.AttrsPer},
		{otap.ResourceAttrs, 1},
		{otap.ScopeAttrs, 1},
	} {
		b, err := child(spec.typ, spec.per)
		if err != nil {
			return nil, err
		}
		c.Payloads = append(c.Payloads, otap.Payload{SchemaID: fmt.Sprint(i + 1), Type: spec.typ, Record: b})
	}
	return c, nil
}
