// Package lazy describes chunked arrays whose partitions are only computed
// when they are asked for.
package lazy

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

//go:generate mockgen -source=source.go -destination=source_mock.go -package=lazy

// Source is a chunked array that realizes any in-bounds slice on demand.
// Shape and Chunks describe the array in row-major order.
type Source interface {
	Shape() []int
	Chunks() [][]int
	DType() DType
	// Realize computes the block selected by s into a contiguous buffer.
	Realize(ctx context.Context, s Slice) (*Buffer, error)
}

// DType is the element type of an array.
type DType struct {
	Name     string
	ItemSize int
}

var (
	Uint8   = DType{"uint8", 1}
	Uint16  = DType{"uint16", 2}
	Uint32  = DType{"uint32", 4}
	Int32   = DType{"int32", 4}
	Int64   = DType{"int64", 8}
	Float32 = DType{"float32", 4}
	Float64 = DType{"float64", 8}
)

func (d DType) String() string {
	return d.Name
}

// Buffer is a realized block: little-endian elements in C order.
type Buffer struct {
	Shape []int
	DType DType
	Data  []byte
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(shape []int, dtype DType) *Buffer {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Buffer{
		Shape: append([]int(nil), shape...),
		DType: dtype,
		Data:  make([]byte, n*dtype.ItemSize),
	}
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	if b.DType.ItemSize == 0 {
		return 0
	}
	return len(b.Data) / b.DType.ItemSize
}

// Uint32At returns element i decoded as a uint32. Narrower types are widened,
// wider types are truncated.
func (b *Buffer) Uint32At(i int) uint32 {
	off := i * b.DType.ItemSize
	switch b.DType.ItemSize {
	case 1:
		return uint32(b.Data[off])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b.Data[off:]))
	case 4:
		if b.DType == Float32 {
			return uint32(math.Float32frombits(binary.LittleEndian.Uint32(b.Data[off:])))
		}
		return binary.LittleEndian.Uint32(b.Data[off:])
	case 8:
		if b.DType == Float64 {
			return uint32(math.Float64frombits(binary.LittleEndian.Uint64(b.Data[off:])))
		}
		return uint32(binary.LittleEndian.Uint64(b.Data[off:]))
	}
	return 0
}

// Float64At returns element i as a float64, honouring signedness.
func (b *Buffer) Float64At(i int) float64 {
	off := i * b.DType.ItemSize
	switch b.DType {
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b.Data[off:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b.Data[off:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b.Data[off:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b.Data[off:]))
	}
	return float64(b.Uint32At(i))
}

// Tensor copies the buffer into a gomlx tensor of the same shape.
func (b *Buffer) Tensor() (*tensors.Tensor, error) {
	n := b.Len()
	switch b.DType {
	case Uint8:
		return tensors.FromFlatDataAndDimensions(append([]uint8(nil), b.Data...), b.Shape...), nil
	case Uint32:
		v := make([]uint32, n)
		for i := range v {
			v[i] = binary.LittleEndian.Uint32(b.Data[i*4:])
		}
		return tensors.FromFlatDataAndDimensions(v, b.Shape...), nil
	case Int32:
		v := make([]int32, n)
		for i := range v {
			v[i] = int32(binary.LittleEndian.Uint32(b.Data[i*4:]))
		}
		return tensors.FromFlatDataAndDimensions(v, b.Shape...), nil
	case Int64:
		v := make([]int64, n)
		for i := range v {
			v[i] = int64(binary.LittleEndian.Uint64(b.Data[i*8:]))
		}
		return tensors.FromFlatDataAndDimensions(v, b.Shape...), nil
	case Float32:
		v := make([]float32, n)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
		}
		return tensors.FromFlatDataAndDimensions(v, b.Shape...), nil
	case Float64:
		v := make([]float64, n)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b.Data[i*8:]))
		}
		return tensors.FromFlatDataAndDimensions(v, b.Shape...), nil
	default:
		return nil, fmt.Errorf("unsupported dtype for tensor: %s", b.DType)
	}
}
