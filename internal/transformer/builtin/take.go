package builtin

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// takeRecord applies the same row permutation to every column of rec.
func takeRecord(ctx context.Context, rec arrow.Record, perm []int32) (arrow.Record, error) {
	mem := compute.GetAllocator(ctx)
	ib := array.NewInt32Builder(mem)
	ib.AppendValues(perm, nil)
	indices := ib.NewInt32Array()
	ib.Release()
	defer indices.Release()

	cols := make([]arrow.Array, rec.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i, col := range rec.Columns() {
		out, err := takeColumn(ctx, mem, col, indices, perm)
		if err != nil {
			return nil, fmt.Errorf("take column %q: %w", rec.ColumnName(i), err)
		}
		cols[i] = out
	}
	return array.NewRecord(rec.Schema(), cols, int64(len(perm))), nil
}

// takeColumn covers the layouts the compute take kernel does not:
// dictionaries (take the indices, keep the dictionary) and structs whose
// children need the same treatment.
func takeColumn(ctx context.Context, mem memory.Allocator, col arrow.Array, indices *array.Int32, perm []int32) (arrow.Array, error) {
	switch a := col.(type) {
	case *array.Dictionary:
		idx, err := takeColumn(ctx, mem, a.Indices(), indices, perm)
		if err != nil {
			return nil, err
		}
		defer idx.Release()
		return array.NewDictionaryArray(a.DataType(), idx, a.Dictionary()), nil

	case *array.Struct:
		children := make([]arrow.ArrayData, a.NumField())
		defer func() {
			for _, c := range children {
				if c != nil {
					c.Release()
				}
			}
		}()
		for i := range children {
			child, err := takeColumn(ctx, mem, a.Field(i), indices, perm)
			if err != nil {
				return nil, err
			}
			children[i] = child.Data()
			children[i].Retain()
			child.Release()
		}

		var (
			validity *memory.Buffer
			nulls    int
		)
		if a.NullN() > 0 {
			validity = memory.NewResizableBuffer(mem)
			defer validity.Release()
			validity.Resize(int(bitutil.BytesForBits(int64(len(perm)))))
			bits := validity.Bytes()
			clear(bits)
			for i, j := range perm {
				if a.IsValid(int(j)) {
					bitutil.SetBit(bits, i)
				} else {
					nulls++
				}
			}
		}
		data := array.NewData(a.DataType(), len(perm), []*memory.Buffer{validity}, children, nulls, 0)
		defer data.Release()
		return array.MakeFromData(data), nil

	default:
		return compute.TakeArray(ctx, col, indices)
	}
}
