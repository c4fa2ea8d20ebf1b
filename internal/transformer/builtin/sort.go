package builtin

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"

	"otapetl/internal/transformer"
)

// SortByParentID reorders a child table so rows are grouped by parent id,
// ascending, with nulls last. The sort is stable: rows that share a parent
// keep their transport order. Values are never modified.
type SortByParentID struct {
	Column      string
	SkipMissing bool
}

func (s SortByParentID) Name() string { return "sort_by_parent_id(" + s.Column + ")" }

func (s SortByParentID) Apply(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	idx := rec.Schema().FieldIndices(s.Column)
	if len(idx) == 0 {
		if s.SkipMissing {
			rec.Retain()
			return rec, nil
		}
		return nil, fmt.Errorf("column %q: %w", s.Column, transformer.ErrMissingColumn)
	}
	if rec.NumRows() > math.MaxInt32 {
		return nil, fmt.Errorf("%d rows: %w", rec.NumRows(), transformer.ErrUnsupportedType)
	}

	perm, sorted, err := parentOrder(ctx, rec.Column(idx[0]))
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", s.Column, err)
	}
	if sorted {
		rec.Retain()
		return rec, nil
	}
	return takeRecord(ctx, rec, perm)
}

// parentOrder returns the stable sorting permutation of col, or sorted=true
// when col is already in order.
func parentOrder(ctx context.Context, col arrow.Array) (perm []int32, sorted bool, err error) {
	switch a := col.(type) {
	case *array.Int8:
		perm, sorted = stableOrder(a.Int8Values(), col)
	case *array.Int16:
		perm, sorted = stableOrder(a.Int16Values(), col)
	case *array.Int32:
		perm, sorted = stableOrder(a.Int32Values(), col)
	case *array.Int64:
		perm, sorted = stableOrder(a.Int64Values(), col)
	case *array.Uint8:
		perm, sorted = stableOrder(a.Uint8Values(), col)
	case *array.Uint16:
		perm, sorted = stableOrder(a.Uint16Values(), col)
	case *array.Uint32:
		perm, sorted = stableOrder(a.Uint32Values(), col)
	case *array.Uint64:
		perm, sorted = stableOrder(a.Uint64Values(), col)
	case *array.Dictionary:
		// Compare decoded values, not dictionary positions.
		plain, terr := compute.TakeArray(ctx, a.Dictionary(), a.Indices())
		if terr != nil {
			return nil, false, terr
		}
		defer plain.Release()
		return parentOrder(ctx, plain)
	default:
		return nil, false, fmt.Errorf("%s: %w", col.DataType(), transformer.ErrUnsupportedType)
	}
	return perm, sorted, nil
}

func stableOrder[T cmp.Ordered](vals []T, col arrow.Array) ([]int32, bool) {
	n := col.Len()
	less := func(i, j int) bool {
		vi, vj := col.IsValid(i), col.IsValid(j)
		switch {
		case !vi:
			return false
		case !vj:
			return true
		default:
			return vals[i] < vals[j]
		}
	}
	sorted := true
	for i := 1; i < n; i++ {
		if less(i, i-1) {
			sorted = false
			break
		}
	}
	if sorted {
		return nil, true
	}

	perm := make([]int32, n)
	for i := range perm {
		perm[i] = int32(i)
	}
	slices.SortStableFunc(perm, func(a, b int32) int {
		switch {
		case less(int(a), int(b)):
			return -1
		case less(int(b), int(a)):
			return 1
		default:
			return 0
		}
	})
	return perm, false
}
