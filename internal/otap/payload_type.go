// Package otap defines the domain model for OTAP batch-arrow-records: the
// container produced by the decoder, its typed payloads, and the closed set of
// payload types with their derived table names.
package otap

import (
	"fmt"
	"strings"
)

// PayloadType identifies which OTAP table an embedded Arrow stream carries.
// The numeric values match the ArrowPayloadType enumerants on the wire.
type PayloadType int32

const (
	Unknown       PayloadType = 0
	ResourceAttrs PayloadType = 1
	ScopeAttrs    PayloadType = 2

	UnivariateMetrics           PayloadType = 10
	NumberDataPoints            PayloadType = 11
	SummaryDataPoints           PayloadType = 12
	HistogramDataPoints         PayloadType = 13
	ExpHistogramDataPoints      PayloadType = 14
	NumberDpAttrs               PayloadType = 15
	SummaryDpAttrs              PayloadType = 16
	HistogramDpAttrs            PayloadType = 17
	ExpHistogramDpAttrs         PayloadType = 18
	NumberDpExemplars           PayloadType = 19
	HistogramDpExemplars        PayloadType = 20
	ExpHistogramDpExemplars     PayloadType = 21
	NumberDpExemplarAttrs       PayloadType = 22
	HistogramDpExemplarAttrs    PayloadType = 23
	ExpHistogramDpExemplarAttrs PayloadType = 24
	MultivariateMetrics         PayloadType = 25
	MetricAttrs                 PayloadType = 26

	Logs     PayloadType = 30
	LogAttrs PayloadType = 31

	Spans          PayloadType = 40
	SpanAttrs      PayloadType = 41
	SpanEvents     PayloadType = 42
	SpanLinks      PayloadType = 43
	SpanEventAttrs PayloadType = 44
	SpanLinkAttrs  PayloadType = 45
)

// Kind classifies a payload type as a primary record table or a child table
// that references a parent row through a parent_id column.
type Kind int

const (
	// Primary tables own the identifier column other tables point at.
	Primary Kind = iota + 1
	// Child tables carry a parent_id foreign key.
	Child
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Child:
		return "child"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AllTypes lists every routable payload type in wire order.
var AllTypes = []PayloadType{
	ResourceAttrs, ScopeAttrs,
	UnivariateMetrics, NumberDataPoints, SummaryDataPoints, HistogramDataPoints,
	ExpHistogramDataPoints, NumberDpAttrs, SummaryDpAttrs, HistogramDpAttrs,
	ExpHistogramDpAttrs, NumberDpExemplars, HistogramDpExemplars,
	ExpHistogramDpExemplars, NumberDpExemplarAttrs, HistogramDpExemplarAttrs,
	ExpHistogramDpExemplarAttrs, MultivariateMetrics, MetricAttrs,
	Logs, LogAttrs,
	Spans, SpanAttrs, SpanEvents, SpanLinks, SpanEventAttrs, SpanLinkAttrs,
}

// String returns the canonical name of t, e.g. "LogAttrs". Values outside the
// enumeration render as "PayloadType(N)".
func (t PayloadType) String() string {
	switch t {
	case Unknown:
		return "Unknown"
	case ResourceAttrs:
		return "ResourceAttrs"
	case ScopeAttrs:
		return "ScopeAttrs"
	case UnivariateMetrics:
		return "UnivariateMetrics"
	case NumberDataPoints:
		return "NumberDataPoints"
	case SummaryDataPoints:
		return "SummaryDataPoints"
	case HistogramDataPoints:
		return "HistogramDataPoints"
	case ExpHistogramDataPoints:
		return "ExpHistogramDataPoints"
	case NumberDpAttrs:
		return "NumberDpAttrs"
	case SummaryDpAttrs:
		return "SummaryDpAttrs"
	case HistogramDpAttrs:
		return "HistogramDpAttrs"
	case ExpHistogramDpAttrs:
		return "ExpHistogramDpAttrs"
	case NumberDpExemplars:
		return "NumberDpExemplars"
	case HistogramDpExemplars:
		return "HistogramDpExemplars"
	case ExpHistogramDpExemplars:
		return "ExpHistogramDpExemplars"
	case NumberDpExemplarAttrs:
		return "NumberDpExemplarAttrs"
	case HistogramDpExemplarAttrs:
		return "HistogramDpExemplarAttrs"
	case ExpHistogramDpExemplarAttrs:
		return "ExpHistogramDpExemplarAttrs"
	case MultivariateMetrics:
		return "MultivariateMetrics"
	case MetricAttrs:
		return "MetricAttrs"
	case Logs:
		return "Logs"
	case LogAttrs:
		return "LogAttrs"
	case Spans:
		return "Spans"
	case SpanAttrs:
		return "SpanAttrs"
	case SpanEvents:
		return "SpanEvents"
	case SpanLinks:
		return "SpanLinks"
	case SpanEventAttrs:
		return "SpanEventAttrs"
	case SpanLinkAttrs:
		return "SpanLinkAttrs"
	default:
		return fmt.Sprintf("PayloadType(%d)", int32(t))
	}
}

// Valid reports whether t is a routable member of the enumeration. Unknown
// is a member on the wire but never routable.
func (t PayloadType) Valid() bool {
	return t.Kind() != 0
}

// Kind reports whether t is a primary or child table. It returns 0 for
// Unknown and for values outside the enumeration.
func (t PayloadType) Kind() Kind {
	switch t {
	case Logs, Spans, UnivariateMetrics, MultivariateMetrics:
		return Primary
	case ResourceAttrs, ScopeAttrs,
		NumberDataPoints, SummaryDataPoints, HistogramDataPoints, ExpHistogramDataPoints,
		NumberDpAttrs, SummaryDpAttrs, HistogramDpAttrs, ExpHistogramDpAttrs,
		NumberDpExemplars, HistogramDpExemplars, ExpHistogramDpExemplars,
		NumberDpExemplarAttrs, HistogramDpExemplarAttrs, ExpHistogramDpExemplarAttrs,
		MetricAttrs, LogAttrs,
		SpanAttrs, SpanEvents, SpanLinks, SpanEventAttrs, SpanLinkAttrs:
		return Child
	case Unknown:
		return 0
	default:
		return 0
	}
}

// TableName is the lower-cased canonical name used verbatim as the sink's
// addressable unit ("logs", "logattrs", ...).
func (t PayloadType) TableName() string {
	return strings.ToLower(t.String())
}

// ParsePayloadType resolves a canonical name, a table name, or the wire
// enumerant's upper snake-case name (e.g. "LOG_ATTRS") to a PayloadType.
func ParsePayloadType(s string) (PayloadType, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, t := range AllTypes {
		if t.TableName() == key {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("otap: unknown payload type %q", s)
}

// FromWire maps a wire enumerant to a PayloadType, rejecting Unknown and any
// value outside the enumeration.
func FromWire(v int32) (PayloadType, error) {
	t := PayloadType(v)
	if !t.Valid() {
		return Unknown, fmt.Errorf("otap: unsupported payload type enumerant %d", v)
	}
	return t, nil
}
