package lazy

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
)

// Number is the set of element types a generated array can hold.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~int32 | ~int64 | ~float32 | ~float64
}

// Array is a Source whose elements are computed by a function. Nothing is
// evaluated until Realize is called.
type Array[T Number] struct {
	shape  []int
	chunks [][]int
	dtype  DType
	fn     func(index []int) T
}

var _ Source = (*Array[uint32])(nil)

// Generate returns a lazily evaluated array of the given shape and chunk size.
// fn computes the value at a global index.
func Generate[T Number](shape, chunkSize []int, fn func(index []int) T) (*Array[T], error) {
	chunks, err := NormalizeChunks(shape, chunkSize)
	if err != nil {
		return nil, err
	}
	return &Array[T]{
		shape:  append([]int(nil), shape...),
		chunks: chunks,
		dtype:  dtypeOf[T](),
		fn:     fn,
	}, nil
}

// Random returns an int32 array whose elements are uniformly distributed in
// [low, high). Each element depends only on seed and its index, so a chunk
// realizes to the same values regardless of which chunks were computed
// before it.
func Random(shape, chunkSize []int, seed uint64, low, high int32) (*Array[int32], error) {
	if high <= low {
		return nil, fmt.Errorf("random range is empty: [%d, %d)", low, high)
	}
	strides := Strides(shape)
	span := uint64(int64(high) - int64(low))
	return Generate(shape, chunkSize, func(index []int) int32 {
		flat := 0
		for i, x := range index {
			flat += x * strides[i]
		}
		return int32(int64(low) + int64(splitmix64(seed+uint64(flat))%span))
	})
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (a *Array[T]) Shape() []int    { return append([]int(nil), a.shape...) }
func (a *Array[T]) Chunks() [][]int { return copyChunks(a.chunks) }
func (a *Array[T]) DType() DType    { return a.dtype }

// Realize evaluates the element function over s.
func (a *Array[T]) Realize(ctx context.Context, s Slice) (*Buffer, error) {
	if err := s.Within(a.shape); err != nil {
		return nil, err
	}
	buf := NewBuffer(s.Shape(), a.dtype)
	start := s.Start()
	index := make([]int, len(start))
	offset := 0
	err := iterateGrid(buf.Shape, func(rel []int) error {
		if offset%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for i, r := range rel {
			index[i] = start[i] + r
		}
		putElement(buf.Data[offset*a.dtype.ItemSize:], a.fn(index))
		offset++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func dtypeOf[T Number]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	default:
		return Float64
	}
}

func putElement[T Number](dst []byte, v T) {
	switch x := any(v).(type) {
	case uint8:
		dst[0] = x
	case uint16:
		binary.LittleEndian.PutUint16(dst, x)
	case uint32:
		binary.LittleEndian.PutUint32(dst, x)
	case int32:
		binary.LittleEndian.PutUint32(dst, uint32(x))
	case int64:
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	}
}

// FromImage exposes the grey levels of img as a 2-D uint32 array of shape
// [height, width]. The image is kept by reference; pixels are only read when
// a chunk is realized.
func FromImage(img image.Image, chunkSize []int) (*Array[uint32], error) {
	b := img.Bounds()
	return Generate([]int{b.Dy(), b.Dx()}, chunkSize, func(index []int) uint32 {
		g := color.GrayModel.Convert(img.At(b.Min.X+index[1], b.Min.Y+index[0])).(color.Gray)
		return uint32(g.Y)
	})
}

// Rechunk changes the partitioning of src. Realization is delegated to src,
// which must accept any in-bounds slice.
func Rechunk(src Source, chunkSize []int) (Source, error) {
	chunks, err := NormalizeChunks(src.Shape(), chunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to rechunk: %w", err)
	}
	return &rechunked{Source: src, chunks: chunks}, nil
}

type rechunked struct {
	Source
	chunks [][]int
}

func (r *rechunked) Chunks() [][]int { return copyChunks(r.chunks) }

func copyChunks(chunks [][]int) [][]int {
	out := make([][]int, len(chunks))
	for i, c := range chunks {
		out[i] = append([]int(nil), c...)
	}
	return out
}
