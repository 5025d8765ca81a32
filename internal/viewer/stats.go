package viewer

import (
	"context"
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/TuSKan/zarr-cells/lazy"
)

// scanRange returns the smallest and largest element over the cells at
// indices. Each cell is read through its gomlx tensor view.
func (r *renderer) scanRange(ctx context.Context, indices []int) (Range, error) {
	rng := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			return Range{}, err
		}
		c, err := r.src.Get(ctx, index)
		if err != nil {
			return Range{}, err
		}
		lo, hi, err := cellRange(c.Lease.Buffer())
		c.Lease.Release()
		if err != nil {
			return Range{}, fmt.Errorf("failed to scan cell %d: %w", index, err)
		}
		rng.Min, rng.Max = min(rng.Min, lo), max(rng.Max, hi)
	}
	if rng.Max <= rng.Min {
		// Flat plane: keep a non-empty range so the mapping stays defined.
		rng.Max = rng.Min + 1
	}
	return rng, nil
}

// cellRange returns the value range of buf.
func cellRange(buf *lazy.Buffer) (lo, hi float64, err error) {
	t, err := buf.Tensor()
	if err != nil {
		return 0, 0, err
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	switch t.DType() {
	case dtypes.Uint8:
		tensors.ConstFlatData(t, func(flat []uint8) { lo, hi = extent(flat, lo, hi) })
	case dtypes.Uint32:
		tensors.ConstFlatData(t, func(flat []uint32) { lo, hi = extent(flat, lo, hi) })
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) { lo, hi = extent(flat, lo, hi) })
	case dtypes.Int64:
		tensors.ConstFlatData(t, func(flat []int64) { lo, hi = extent(flat, lo, hi) })
	case dtypes.Float32:
		tensors.ConstFlatData(t, func(flat []float32) { lo, hi = extent(flat, lo, hi) })
	case dtypes.Float64:
		tensors.ConstFlatData(t, func(flat []float64) { lo, hi = extent(flat, lo, hi) })
	default:
		return 0, 0, fmt.Errorf("unsupported tensor dtype: %s", t.DType())
	}
	return lo, hi, nil
}

func extent[T lazy.Number](flat []T, lo, hi float64) (float64, float64) {
	for _, v := range flat {
		f := float64(v)
		lo, hi = min(lo, f), max(hi, f)
	}
	return lo, hi
}
