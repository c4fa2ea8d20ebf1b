package container

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"

	"otapetl/internal/otap"
)

// maxJSONLine bounds a single JSON-lines container. Sample files carry whole
// batches per line, so the default bufio.Scanner limit is far too small.
const maxJSONLine = 256 << 20

type jsonContainer struct {
	BatchID  jsonInt       `json:"batch_id"`
	Payloads []jsonPayload `json:"arrow_payloads"`
	Headers  []byte        `json:"headers"`
}

type jsonPayload struct {
	SchemaID string   `json:"schema_id"`
	Type     jsonType `json:"type"`
	Record   []byte   `json:"record"` // base64, std encoding
}

// jsonInt accepts both 17 and "17" (protojson renders int64 as a string).
type jsonInt int64

func (v *jsonInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*v = jsonInt(n)
	return nil
}

// jsonType accepts the numeric enumerant or its name ("LOG_ATTRS", "LogAttrs").
type jsonType otap.PayloadType

func (v *jsonType) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := otap.ParsePayloadType(s)
		if err != nil {
			return err
		}
		*v = jsonType(t)
		return nil
	}
	var n int32
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	t, err := otap.FromWire(n)
	if err != nil {
		return err
	}
	*v = jsonType(t)
	return nil
}

// DecodeJSON parses the JSON rendering of one batch-arrow-records message.
func DecodeJSON(b []byte) (*otap.Container, error) {
	var jc jsonContainer
	if err := json.Unmarshal(b, &jc); err != nil {
		return nil, &DecodeError{Payload: -1, Reason: "invalid JSON container", Err: err}
	}
	c := &otap.Container{
		BatchID:  int64(jc.BatchID),
		Headers:  jc.Headers,
		Payloads: make([]otap.Payload, 0, len(jc.Payloads)),
	}
	for i, p := range jc.Payloads {
		if otap.PayloadType(p.Type) == otap.Unknown {
			return nil, &DecodeError{Payload: i, Reason: "payload has no type"}
		}
		c.Payloads = append(c.Payloads, otap.Payload{
			SchemaID: p.SchemaID,
			Type:     otap.PayloadType(p.Type),
			Record:   p.Record,
		})
	}
	return c, nil
}

// JSONLines yields one container per non-empty line of r. Iteration stops
// after the first error.
func JSONLines(r io.Reader) iter.Seq2[*otap.Container, error] {
	return func(yield func(*otap.Container, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxJSONLine)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			c, err := DecodeJSON(b)
			if err != nil {
				yield(nil, fmt.Errorf("line %d: %w", line, err))
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, &DecodeError{Payload: -1, Reason: fmt.Sprintf("read line %d", line+1), Err: err})
		}
	}
}

// EncodeJSON renders c as one line of the JSON-lines form read by DecodeJSON.
func EncodeJSON(c *otap.Container) ([]byte, error) {
	jc := jsonContainer{
		BatchID:  jsonInt(c.BatchID),
		Headers:  c.Headers,
		Payloads: make([]jsonPayload, 0, len(c.Payloads)),
	}
	for _, p := range c.Payloads {
		jc.Payloads = append(jc.Payloads, jsonPayload{SchemaID: p.SchemaID, Type: jsonType(p.Type), Record: p.Record})
	}
	return json.Marshal(jc)
}
