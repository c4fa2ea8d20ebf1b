// Package container decodes OTAP batch-arrow-records messages into
// otap.Container values.
//
// Wire layout (protobuf):
//
//	BatchArrowRecords { int64 batch_id = 1; repeated ArrowPayload arrow_payloads = 2; bytes headers = 3; }
//	ArrowPayload      { string schema_id = 1; ArrowPayloadType type = 2; bytes record = 3; }
//
// The decoder only validates the container framing. Embedded Arrow streams
// are carried through untouched; replaying them is the job of ipcstream.
package container

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"otapetl/internal/otap"
)

// ErrMalformed is wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed container")

// DecodeError reports where and why a container failed to decode. There is
// no partial result: a DecodeError aborts the whole container.
type DecodeError struct {
	// Offset is the byte offset of the offending field within the message
	// being parsed (the container, or the payload at Payload).
	Offset int
	// Payload is the index of the payload being parsed, or -1.
	Payload int
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode: %s at offset %d", e.Reason, e.Offset)
	if e.Payload >= 0 {
		msg = fmt.Sprintf("decode: payload %d: %s at offset %d", e.Payload, e.Reason, e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both ErrMalformed and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

const (
	fieldBatchID  protowire.Number = 1
	fieldPayloads protowire.Number = 2
	fieldHeaders  protowire.Number = 3

	fieldSchemaID protowire.Number = 1
	fieldType     protowire.Number = 2
	fieldRecord   protowire.Number = 3
)

// Decode parses b into a Container. Payload records alias b; callers that
// reuse b must copy the container first.
func Decode(b []byte) (*otap.Container, error) {
	c := &otap.Container{}
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return nil, malformed(-1, off, "invalid tag", protowire.ParseError(n))
		}
		fieldOff := off
		off += n

		switch num {
		case fieldBatchID:
			if typ != protowire.VarintType {
				return nil, malformed(-1, fieldOff, fmt.Sprintf("batch_id has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return nil, malformed(-1, off, "invalid batch_id varint", protowire.ParseError(n))
			}
			c.BatchID = int64(v)
			off += n

		case fieldPayloads:
			if typ != protowire.BytesType {
				return nil, malformed(-1, fieldOff, fmt.Sprintf("arrow_payloads has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return nil, malformed(-1, off, "truncated arrow_payloads", protowire.ParseError(n))
			}
			p, err := decodePayload(v, len(c.Payloads))
			if err != nil {
				return nil, err
			}
			c.Payloads = append(c.Payloads, p)
			off += n

		case fieldHeaders:
			if typ != protowire.BytesType {
				return nil, malformed(-1, fieldOff, fmt.Sprintf("headers has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return nil, malformed(-1, off, "truncated headers", protowire.ParseError(n))
			}
			c.Headers = v
			off += n

		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return nil, malformed(-1, off, fmt.Sprintf("invalid unknown field %d", num), protowire.ParseError(n))
			}
			off += n
		}
	}
	return c, nil
}

func decodePayload(b []byte, idx int) (otap.Payload, error) {
	var (
		p       otap.Payload
		sawType bool
	)
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return p, malformed(idx, off, "invalid tag", protowire.ParseError(n))
		}
		fieldOff := off
		off += n

		switch num {
		case fieldSchemaID:
			if typ != protowire.BytesType {
				return p, malformed(idx, fieldOff, fmt.Sprintf("schema_id has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return p, malformed(idx, off, "truncated schema_id", protowire.ParseError(n))
			}
			if !utf8.Valid(v) {
				return p, malformed(idx, off, "schema_id is not valid UTF-8", nil)
			}
			p.SchemaID = string(v)
			off += n

		case fieldType:
			if typ != protowire.VarintType {
				return p, malformed(idx, fieldOff, fmt.Sprintf("type has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return p, malformed(idx, off, "invalid type varint", protowire.ParseError(n))
			}
			t, err := otap.FromWire(int32(v))
			if err != nil {
				return p, malformed(idx, off, "unknown payload type", err)
			}
			p.Type = t
			sawType = true
			off += n

		case fieldRecord:
			if typ != protowire.BytesType {
				return p, malformed(idx, fieldOff, fmt.Sprintf("record has wire type %d", typ), nil)
			}
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return p, malformed(idx, off, "truncated record", protowire.ParseError(n))
			}
			p.Record = v
			off += n

		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return p, malformed(idx, off, fmt.Sprintf("invalid unknown field %d", num), protowire.ParseError(n))
			}
			off += n
		}
	}
	// proto3 omits zero-valued enums, so a missing type means Unknown.
	if !sawType {
		return p, malformed(idx, 0, "payload has no type", nil)
	}
	return p, nil
}

func malformed(payload, off int, reason string, err error) *DecodeError {
	return &DecodeError{Offset: off, Payload: payload, Reason: reason, Err: err}
}
