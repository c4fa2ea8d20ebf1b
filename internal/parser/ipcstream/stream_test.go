package ipcstream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"otapetl/internal/otap"
	"otapetl/internal/otap/otaptest"
	"otapetl/internal/otap/sample"
)

func collect(t *testing.T, s *Stream) [][]int {
	t.Helper()
	var out [][]int
	for s.Next() {
		rec := s.Record()
		out = append(out, otaptest.Uint16s(t, rec, "id"))
		rec.Release()
	}
	return out
}

func schemaOnly(t *testing.T, schema *arrow.Schema) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

func TestStreamEmpty(t *testing.T) {
	t.Parallel()

	s, err := Open(otap.Payload{SchemaID: "0", Type: otap.Logs})
	if err != nil {
		t.Fatalf("Open(empty) error = %v", err)
	}
	defer s.Release()
	if s.Next() {
		t.Fatalf("Next() on empty stream = true")
	}
	if s.Err() != nil || s.Schema() != nil {
		t.Fatalf("empty stream Err = %v, Schema = %v; want nil, nil", s.Err(), s.Schema())
	}
}

func TestStreamSchemaWithoutBatches(t *testing.T) {
	t.Parallel()

	mem := otaptest.Allocator(t)
	s, err := Open(otap.Payload{Type: otap.Logs, Record: schemaOnly(t, sample.LogsSchema)}, WithAllocator(mem))
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Release()
	if got := collect(t, s); len(got) != 0 {
		t.Fatalf("fragments = %v, want none", got)
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v", s.Err())
	}
	if !s.Schema().Equal(sample.LogsSchema) {
		t.Fatalf("Schema = %s, want %s", s.Schema(), sample.LogsSchema)
	}
}

func TestStreamFragmentsInOrder(t *testing.T) {
	t.Parallel()

	mem := otaptest.Allocator(t)
	p := otaptest.Payload(t, mem, "7", otap.Logs,
		sample.Logs(mem, []uint16{10, 1, 1}),
		sample.Logs(mem, []uint16{20, 2}),
		sample.Logs(mem, []uint16{30}),
	)
	s, err := Open(p, WithAllocator(mem))
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Release()

	got := collect(t, s)
	want := [][]int{{10, 1, 1}, {20, 2}, {30}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v", s.Err())
	}
	if s.Index() != 2 {
		t.Fatalf("Index = %d, want 2", s.Index())
	}
}

func TestStreamGarbage(t *testing.T) {
	t.Parallel()

	// Continuation marker and a 16 byte metadata length, then too few bytes.
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0x10, 0, 0, 0, 'n', 'o', 'p', 'e'}
	_, err := Open(otap.Payload{SchemaID: "9", Type: otap.LogAttrs, Record: garbage})
	var re *ReconstructError
	if !errors.As(err, &re) || re.Kind != InvalidStream {
		t.Fatalf("Open(garbage) error = %v, want InvalidStream", err)
	}
	if !errors.Is(err, ErrInvalidStream) || re.SchemaID != "9" || re.Type != otap.LogAttrs {
		t.Fatalf("Open(garbage) error = %#v", re)
	}
}

func TestStreamCorruptFirstFragment(t *testing.T) {
	t.Parallel()

	mem := memory.NewGoAllocator()
	head := len(schemaOnly(t, sample.LogsSchema)) - 8 // drop the end-of-stream marker
	full := otaptest.Stream(t, mem, sample.Logs(mem, []uint16{1, 2, 3}))

	s, err := Open(otap.Payload{SchemaID: "1", Type: otap.Logs, Record: full[:head+20]})
	if err != nil {
		t.Fatalf("Open error = %v, want schema to read", err)
	}
	defer s.Release()
	if got := collect(t, s); len(got) != 0 {
		t.Fatalf("fragments = %v, want none", got)
	}
	if !errors.Is(s.Err(), ErrInvalidStream) {
		t.Fatalf("Err = %v, want ErrInvalidStream", s.Err())
	}
}

func TestStreamCorruptLaterFragment(t *testing.T) {
	t.Parallel()

	mem := memory.NewGoAllocator()
	full := otaptest.Stream(t, mem,
		sample.Logs(mem, []uint16{1, 1}),
		sample.Logs(mem, []uint16{5, 1}),
	)
	// Cut into the body of the second fragment.
	s, err := Open(otap.Payload{Type: otap.Logs, Record: full[:len(full)-8-4]})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer s.Release()

	got := collect(t, s)
	if diff := cmp.Diff([][]int{{1, 1}}, got); diff != "" {
		t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
	}
	var re *ReconstructError
	if !errors.As(s.Err(), &re) || re.Kind != Fragment || re.Index != 1 {
		t.Fatalf("Err = %v, want Fragment at index 1", s.Err())
	}
	if !errors.Is(s.Err(), ErrFragment) {
		t.Fatalf("Err = %v, want ErrFragment", s.Err())
	}
	if s.Next() {
		t.Fatalf("Next after error = true")
	}
}
