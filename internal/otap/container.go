package otap

// Container is one decoded batch-arrow-records message. It is produced once
// per decode call and is not modified afterwards.
type Container struct {
	BatchID  int64
	Payloads []Payload

	// Headers holds the opaque (hpack-encoded) headers field, if present.
	Headers []byte
}

// Payload is one schema-tagged embedded Arrow IPC stream.
type Payload struct {
	SchemaID string
	Type     PayloadType
	Record   []byte
}

// Filter returns the payloads whose type is in keep, preserving order. An
// empty keep set selects every payload.
func (c *Container) Filter(keep map[PayloadType]bool) []Payload {
	if len(keep) == 0 {
		return c.Payloads
	}
	out := make([]Payload, 0, len(c.Payloads))
	for _, p := range c.Payloads {
		if keep[p.Type] {
			out = append(out, p)
		}
	}
	return out
}
