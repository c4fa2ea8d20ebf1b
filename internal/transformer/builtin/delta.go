package builtin

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"otapetl/internal/transformer"
)

// DeltaDecode restores absolute values in an identifier column that the
// transport stored as successive differences:
//
//	abs[0] = delta[0]
//	abs[i] = abs[i-1] + delta[i]
//
// Sums are computed at the column's own width and never wrap. The column
// must not contain nulls.
type DeltaDecode struct {
	Column string
	// SkipMissing turns a missing column into a no-op instead of an error.
	SkipMissing bool
}

func (d DeltaDecode) Name() string { return "delta_decode(" + d.Column + ")" }

func (d DeltaDecode) Apply(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	idx := rec.Schema().FieldIndices(d.Column)
	if len(idx) == 0 {
		if d.SkipMissing {
			rec.Retain()
			return rec, nil
		}
		return nil, fmt.Errorf("column %q: %w", d.Column, transformer.ErrMissingColumn)
	}
	col := rec.Column(idx[0])
	if col.NullN() > 0 {
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				return nil, fmt.Errorf("column %q row %d: %w", d.Column, i, transformer.ErrNullIdentifier)
			}
		}
	}

	mem := compute.GetAllocator(ctx)
	var (
		decoded arrow.Array
		err     error
	)
	switch col.DataType().ID() {
	case arrow.INT8:
		decoded, err = decodeDeltas[int8](mem, col)
	case arrow.INT16:
		decoded, err = decodeDeltas[int16](mem, col)
	case arrow.INT32:
		decoded, err = decodeDeltas[int32](mem, col)
	case arrow.INT64:
		decoded, err = decodeDeltas[int64](mem, col)
	case arrow.UINT8:
		decoded, err = decodeDeltas[uint8](mem, col)
	case arrow.UINT16:
		decoded, err = decodeDeltas[uint16](mem, col)
	case arrow.UINT32:
		decoded, err = decodeDeltas[uint32](mem, col)
	case arrow.UINT64:
		decoded, err = decodeDeltas[uint64](mem, col)
	default:
		return nil, fmt.Errorf("column %q is %s: %w", d.Column, col.DataType(), transformer.ErrUnsupportedType)
	}
	if err != nil {
		return nil, fmt.Errorf("column %q %w", d.Column, err)
	}
	defer decoded.Release()

	cols := make([]arrow.Array, rec.NumCols())
	copy(cols, rec.Columns())
	cols[idx[0]] = decoded
	return array.NewRecord(rec.Schema(), cols, rec.NumRows()), nil
}

type integer interface {
	arrow.IntType | arrow.UintType
}

func decodeDeltas[T integer](mem memory.Allocator, col arrow.Array) (arrow.Array, error) {
	in := arrow.GetValues[T](col.Data(), 1)
	width := col.DataType().(arrow.FixedWidthDataType).Bytes()

	buf := memory.NewResizableBuffer(mem)
	defer buf.Release()
	buf.Resize(len(in) * width)
	out := arrow.GetData[T](buf.Bytes())

	var zero T
	signed := ^zero < zero
	var acc T
	for i, d := range in {
		if i > 0 {
			next := acc + d
			if (signed && ((d > 0 && next < acc) || (d < 0 && next > acc))) || (!signed && next < acc) {
				return nil, fmt.Errorf("row %d: %v + %v exceeds %s: %w", i, acc, d, col.DataType(), transformer.ErrOverflow)
			}
			acc = next
		} else {
			acc = d
		}
		out[i] = acc
	}

	data := array.NewData(col.DataType(), len(in), []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}
