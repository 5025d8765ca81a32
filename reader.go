package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/zarr-cells/lazy"
)

// Reader reads a Zarr V2 array from a blob bucket. It is a lazy.Source: a
// slice is only read and decompressed when it is realized.
type Reader struct {
	bucket *blob.Bucket
	meta   *Metadata
	dtype  lazy.DType
	zstd   *zstd.Decoder
}

var _ lazy.Source = (*Reader)(nil)

// NewReader opens the bucket at path (e.g. "file:///data/a.zarr",
// "gs://bucket/a.zarr") and loads its .zarray metadata.
func NewReader(ctx context.Context, path string) (*Reader, error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	r, err := OpenReader(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return r, nil
}

// OpenReader loads the .zarray metadata at the root of bucket. The reader
// takes ownership of the bucket and closes it on Close.
func OpenReader(ctx context.Context, bucket *blob.Bucket) (*Reader, error) {
	reader, err := bucket.NewReader(ctx, ".zarray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open .zarray: %w", err)
	}
	defer reader.Close()

	meta, err := LoadMetadata(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	dtype, err := ElementType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("invalid dtype: %w", err)
	}

	// DecodeAll is safe for concurrent use.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &Reader{
		bucket: bucket,
		meta:   meta,
		dtype:  dtype,
		zstd:   dec,
	}, nil
}

func (r *Reader) Shape() []int { return append([]int(nil), r.meta.Shape...) }

// Chunks returns the per-axis block sizes of the stored chunk grid.
func (r *Reader) Chunks() [][]int {
	chunks, err := lazy.NormalizeChunks(r.meta.Shape, r.meta.Chunks)
	if err != nil {
		return nil
	}
	return chunks
}

func (r *Reader) DType() lazy.DType { return r.dtype }

// Realize reads the region selected by s.
func (r *Reader) Realize(ctx context.Context, s lazy.Slice) (*lazy.Buffer, error) {
	if err := s.Within(r.meta.Shape); err != nil {
		return nil, err
	}
	data, err := r.ReadRegion(ctx, s.Start(), s.Shape())
	if err != nil {
		return nil, err
	}
	return &lazy.Buffer{Shape: s.Shape(), DType: r.dtype, Data: data}, nil
}

// ReadFull reads the entire Zarr array into a flat byte slice.
func (r *Reader) ReadFull(ctx context.Context) ([]byte, error) {
	if len(r.meta.Shape) == 0 {
		return r.ReadChunk(ctx, []int{})
	}
	return r.ReadRegion(ctx, make([]int, len(r.meta.Shape)), r.meta.Shape)
}

// ReadChunk reads a single chunk from the Zarr array given its coordinates.
// The result always has the nominal chunk size; a missing chunk is filled
// with the array's fill value.
func (r *Reader) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	key := ChunkKey(coords, r.meta.Separator())

	expected := r.dtype.ItemSize
	for _, dim := range r.meta.Chunks {
		expected *= dim
	}

	reader, err := r.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return r.fillChunk(expected), nil
		}
		return nil, fmt.Errorf("failed to open chunk %s: %w", key, err)
	}
	defer reader.Close()

	chunkData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	chunkData, err = r.decompress(key, chunkData)
	if err != nil {
		return nil, err
	}
	if len(chunkData) < expected {
		return nil, fmt.Errorf("chunk %s has %d bytes, expected %d", key, len(chunkData), expected)
	}
	return chunkData, nil
}

func (r *Reader) decompress(key string, data []byte) ([]byte, error) {
	if r.meta.Compressor == nil {
		return data, nil
	}

	switch r.meta.Compressor.ID {
	case "zstd":
		out, err := r.zstd.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zstd chunk %s: %w", key, err)
		}
		return out, nil
	case "zlib":
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to init zlib reader for chunk %s: %w", key, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zlib chunk %s: %w", key, err)
		}
		return out, nil
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to init gzip reader for chunk %s: %w", key, err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip chunk %s: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", r.meta.Compressor.ID)
	}
}

// fillChunk returns n bytes holding the fill value. Non-numeric or null fill
// values read as zero.
func (r *Reader) fillChunk(n int) []byte {
	out := make([]byte, n)
	v, ok := r.meta.FillValue.(float64)
	if !ok || v == 0 {
		return out
	}

	size := r.dtype.ItemSize
	elem := make([]byte, size)
	switch {
	case r.dtype.Name == "float32":
		binary.LittleEndian.PutUint32(elem, math.Float32bits(float32(v)))
	case r.dtype.Name == "float64":
		binary.LittleEndian.PutUint64(elem, math.Float64bits(v))
	case size == 1:
		elem[0] = byte(int64(v))
	case size == 2:
		binary.LittleEndian.PutUint16(elem, uint16(int64(v)))
	case size == 4:
		binary.LittleEndian.PutUint32(elem, uint32(int64(v)))
	case size == 8:
		binary.LittleEndian.PutUint64(elem, uint64(int64(v)))
	default:
		return out
	}
	for i := 0; i+size <= n; i += size {
		copy(out[i:], elem)
	}
	return out
}

// ReadRegion reads an N-dimensional region of the Zarr array.
func (r *Reader) ReadRegion(ctx context.Context, start, shape []int) ([]byte, error) {
	if len(start) != len(r.meta.Shape) || len(shape) != len(r.meta.Shape) {
		return nil, fmt.Errorf("start and shape must match array dimensionality")
	}

	if len(r.meta.Shape) == 0 {
		return r.ReadChunk(ctx, []int{})
	}

	// Validate bounds
	for i := range r.meta.Shape {
		if start[i] < 0 || shape[i] <= 0 || start[i]+shape[i] > r.meta.Shape[i] {
			return nil, fmt.Errorf("region out of bounds at dimension %d", i)
		}
	}

	itemSize := r.dtype.ItemSize
	totalElements := 1
	for _, dim := range shape {
		totalElements *= dim
	}
	out := make([]byte, totalElements*itemSize)

	minChunk := make([]int, len(start))
	maxChunk := make([]int, len(start))
	for i := range start {
		minChunk[i] = start[i] / r.meta.Chunks[i]
		maxChunk[i] = (start[i] + shape[i] - 1) / r.meta.Chunks[i]
	}

	dstStrides := lazy.Strides(shape)
	chunkStrides := lazy.Strides(r.meta.Chunks)

	var iterateChunks func(dim int, currentChunkCoords []int) error
	iterateChunks = func(dim int, currentChunkCoords []int) error {
		if dim == len(minChunk) {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunkData, err := r.ReadChunk(ctx, currentChunkCoords)
			if err != nil {
				return err
			}

			chunkStart, chunkExtent := chunkBounds(r.meta.Shape, r.meta.Chunks, currentChunkCoords)
			copyShape := make([]int, len(r.meta.Shape))
			srcOffset := make([]int, len(r.meta.Shape))
			dstOffset := make([]int, len(r.meta.Shape))

			for i := range r.meta.Shape {
				intersectStart := max(chunkStart[i], start[i])
				intersectEnd := min(chunkStart[i]+chunkExtent[i], start[i]+shape[i])
				if intersectStart >= intersectEnd {
					return nil
				}

				copyShape[i] = intersectEnd - intersectStart
				srcOffset[i] = intersectStart - chunkStart[i]
				dstOffset[i] = intersectStart - start[i]
			}

			copyND(out, dstStrides, dstOffset, chunkData, chunkStrides, srcOffset, copyShape, itemSize)
			return nil
		}

		for i := minChunk[dim]; i <= maxChunk[dim]; i++ {
			currentChunkCoords[dim] = i
			if err := iterateChunks(dim+1, currentChunkCoords); err != nil {
				return err
			}
		}
		return nil
	}

	coords := make([]int, len(minChunk))
	if err := iterateChunks(0, coords); err != nil {
		return nil, err
	}

	return out, nil
}

// copyND recursively copies n-dimensional data from src to dst.
func copyND(
	dst []byte, dstStrides, dstOffset []int,
	src []byte, srcStrides, srcOffset []int,
	copyShape []int, itemSize int,
) {
	startSrcIdx := 0
	startDstIdx := 0
	for i := range copyShape {
		startSrcIdx += srcOffset[i] * srcStrides[i]
		startDstIdx += dstOffset[i] * dstStrides[i]
	}

	var iterate func(dim int, currentSrcIdx, currentDstIdx int)
	iterate = func(dim int, currentSrcIdx, currentDstIdx int) {
		// bulk copy for the innermost contiguous dimension
		if dim == len(copyShape)-1 {
			byteLen := copyShape[dim] * itemSize
			srcStart := currentSrcIdx * itemSize
			dstStart := currentDstIdx * itemSize
			copy(dst[dstStart:dstStart+byteLen], src[srcStart:srcStart+byteLen])
			return
		}

		for i := 0; i < copyShape[dim]; i++ {
			iterate(dim+1, currentSrcIdx+i*srcStrides[dim], currentDstIdx+i*dstStrides[dim])
		}
	}
	iterate(0, startSrcIdx, startDstIdx)
}

func (r *Reader) Metadata() *Metadata {
	return r.meta
}

// Close closes the reader.
func (r *Reader) Close() error {
	r.zstd.Close()
	return r.bucket.Close()
}
