package container

import (
	"google.golang.org/protobuf/encoding/protowire"

	"otapetl/internal/otap"
)

// Encode renders c in the batch-arrow-records wire format. Zero-valued
// scalar fields are omitted, as a proto3 encoder would.
func Encode(c *otap.Container) []byte {
	var b []byte
	if c.BatchID != 0 {
		b = protowire.AppendTag(b, fieldBatchID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.BatchID))
	}
	for _, p := range c.Payloads {
		b = protowire.AppendTag(b, fieldPayloads, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePayload(p))
	}
	if len(c.Headers) > 0 {
		b = protowire.AppendTag(b, fieldHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Headers)
	}
	return b
}

func encodePayload(p otap.Payload) []byte {
	var b []byte
	if p.SchemaID != "" {
		b = protowire.AppendTag(b, fieldSchemaID, protowire.BytesType)
		b = protowire.AppendString(b, p.SchemaID)
	}
	if p.Type != otap.Unknown {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.Type)))
	}
	if len(p.Record) > 0 {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Record)
	}
	return b
}
