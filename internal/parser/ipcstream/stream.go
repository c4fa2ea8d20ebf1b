// Package ipcstream replays the Arrow IPC stream embedded in an OTAP payload
// as a lazy sequence of record fragments.
package ipcstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/otap"
)

var (
	// ErrInvalidStream means the schema or the first fragment could not be
	// read; nothing from the payload is usable.
	ErrInvalidStream = errors.New("invalid arrow stream")
	// ErrFragment means a fragment after the first failed; fragments already
	// yielded remain valid.
	ErrFragment = errors.New("unreadable arrow fragment")
)

// ErrorKind distinguishes the two reconstruct failure modes.
type ErrorKind int

const (
	InvalidStream ErrorKind = iota + 1
	Fragment
)

// ReconstructError is payload scoped. Callers skip the payload (or keep the
// fragments already produced, for Fragment) and carry on.
type ReconstructError struct {
	Kind     ErrorKind
	SchemaID string
	Type     otap.PayloadType
	// Index is the fragment that failed.
	Index int
	Err   error
}

func (e *ReconstructError) Error() string {
	switch e.Kind {
	case InvalidStream:
		return fmt.Sprintf("reconstruct %s (schema %q): invalid stream: %v", e.Type, e.SchemaID, e.Err)
	default:
		return fmt.Sprintf("reconstruct %s (schema %q): fragment %d: %v", e.Type, e.SchemaID, e.Index, e.Err)
	}
}

func (e *ReconstructError) Unwrap() []error {
	sentinel := ErrFragment
	if e.Kind == InvalidStream {
		sentinel = ErrInvalidStream
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

type options struct {
	mem memory.Allocator
}

// Option configures Open.
type Option func(*options)

// WithAllocator sets the allocator used for decoded buffers.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// Stream yields the fragments of one payload in stream order.
//
//	s, err := ipcstream.Open(p)
//	if err != nil { ... }
//	defer s.Release()
//	for s.Next() {
//		rec := s.Record()
//		...
//		rec.Release()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	schemaID string
	typ      otap.PayloadType

	r     *ipc.Reader
	rec   arrow.Record
	index int
	err   error
	done  bool
}

// Open starts replaying p.Record. An empty record is a valid stream with no
// fragments.
func Open(p otap.Payload, opts ...Option) (*Stream, error) {
	return OpenReader(bytes.NewReader(p.Record), p.SchemaID, p.Type, opts...)
}

// OpenReader is Open for a stream that is not already in memory. The schema
// message is read eagerly; fragments are read one per Next.
func OpenReader(rd io.Reader, schemaID string, typ otap.PayloadType, opts ...Option) (s *Stream, err error) {
	o := options{mem: memory.DefaultAllocator}
	for _, opt := range opts {
		opt(&o)
	}
	s = &Stream{schemaID: schemaID, typ: typ, index: -1}

	// Peek one byte so a zero-length stream is told apart from a broken one.
	br := &peekReader{r: rd}
	if empty, perr := br.empty(); perr != nil {
		return nil, s.fail(InvalidStream, perr)
	} else if empty {
		s.done = true
		return s, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s, err = nil, (&Stream{schemaID: schemaID, typ: typ}).fail(InvalidStream, fmt.Errorf("panic reading schema: %v", r))
		}
	}()
	r, rerr := ipc.NewReader(br, ipc.WithAllocator(o.mem))
	if rerr != nil {
		return nil, s.fail(InvalidStream, rerr)
	}
	s.r = r
	return s, nil
}

// Schema returns the stream schema, or nil for an empty stream.
func (s *Stream) Schema() *arrow.Schema {
	if s.r == nil {
		return nil
	}
	return s.r.Schema()
}

// Next advances to the next fragment. It returns false at the end of the
// stream or on error; check Err afterwards.
func (s *Stream) Next() bool {
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	if s.done || s.err != nil {
		return false
	}
	if !s.next() {
		s.done = true
		return false
	}
	s.index++
	s.rec = s.r.Record()
	s.rec.Retain()
	return true
}

func (s *Stream) next() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.err = s.fail(s.failKind(), fmt.Errorf("panic decoding fragment: %v", r))
			ok = false
		}
	}()
	if s.r.Next() {
		return true
	}
	if err := s.r.Err(); err != nil {
		s.err = s.fail(s.failKind(), err)
	}
	return false
}

func (s *Stream) failKind() ErrorKind {
	if s.index < 0 {
		return InvalidStream
	}
	return Fragment
}

// Record returns the current fragment with a reference owned by the caller,
// who must Release it.
func (s *Stream) Record() arrow.Record {
	if s.rec == nil {
		return nil
	}
	s.rec.Retain()
	return s.rec
}

// Index is the zero-based position of the current fragment.
func (s *Stream) Index() int { return s.index }

// Err reports the error that stopped iteration, if any.
func (s *Stream) Err() error { return s.err }

// Release frees the underlying reader. It is safe to call more than once.
func (s *Stream) Release() {
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	if s.r != nil {
		s.r.Release()
		s.r = nil
	}
	s.done = true
}

func (s *Stream) fail(kind ErrorKind, err error) *ReconstructError {
	return &ReconstructError{Kind: kind, SchemaID: s.schemaID, Type: s.typ, Index: s.index + 1, Err: err}
}

type peekReader struct {
	r    io.Reader
	head []byte
}

func (p *peekReader) empty() (bool, error) {
	var b [1]byte
	for {
		n, err := p.r.Read(b[:])
		if n > 0 {
			p.head = b[:n:n]
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.head) > 0 {
		n := copy(b, p.head)
		p.head = p.head[n:]
		return n, nil
	}
	return p.r.Read(b)
}
