package lazy

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a slice does not fit inside an array.
var ErrOutOfBounds = errors.New("slice out of bounds")

// Range is the half-open interval [Start, Stop) along one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of elements covered by the range.
func (r Range) Len() int {
	return r.Stop - r.Start
}

// Slice selects a rectangular block of an array, one Range per axis.
type Slice []Range

// Start returns the first index of the block along each axis.
func (s Slice) Start() []int {
	start := make([]int, len(s))
	for i, r := range s {
		start[i] = r.Start
	}
	return start
}

// Shape returns the extent of the block along each axis.
func (s Slice) Shape() []int {
	shape := make([]int, len(s))
	for i, r := range s {
		shape[i] = r.Len()
	}
	return shape
}

// Size returns the number of elements in the block.
func (s Slice) Size() int {
	n := 1
	for _, r := range s {
		n *= r.Len()
	}
	return n
}

// Within reports an error unless s lies inside an array of the given shape.
func (s Slice) Within(shape []int) error {
	if len(s) != len(shape) {
		return fmt.Errorf("%w: slice rank %d, array rank %d", ErrOutOfBounds, len(s), len(shape))
	}
	for i, r := range s {
		if r.Start < 0 || r.Stop > shape[i] || r.Start >= r.Stop {
			return fmt.Errorf("%w: [%d:%d) at dimension %d of size %d", ErrOutOfBounds, r.Start, r.Stop, i, shape[i])
		}
	}
	return nil
}

func (s Slice) String() string {
	str := "["
	for i, r := range s {
		if i > 0 {
			str += ", "
		}
		str += fmt.Sprintf("%d:%d", r.Start, r.Stop)
	}
	return str + "]"
}

// GridShape calculates the number of chunks in each dimension.
// For each dimension i, the number of chunks is ceil(shape[i] / chunks[i]).
func GridShape(shape, chunks []int) []int {
	if len(shape) == 0 || len(chunks) == 0 {
		return []int{} // 0D scalar
	}
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// Strides computes the C-order strides, in elements, for a given shape.
func Strides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// NormalizeChunks expands a regular chunk size into explicit per-axis block
// sizes. Every block has the nominal size except the last one along an axis,
// which is truncated at the array boundary.
// Example: shape=[10], chunkSize=[4] -> [[4, 4, 2]]
func NormalizeChunks(shape, chunkSize []int) ([][]int, error) {
	if len(shape) != len(chunkSize) {
		return nil, fmt.Errorf("chunk size rank %d does not match shape rank %d", len(chunkSize), len(shape))
	}
	chunks := make([][]int, len(shape))
	for i := range shape {
		if shape[i] <= 0 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", i, shape[i])
		}
		if chunkSize[i] <= 0 {
			return nil, fmt.Errorf("chunk size at dimension %d must be positive, got %d", i, chunkSize[i])
		}
		c := min(chunkSize[i], shape[i])
		for start := 0; start < shape[i]; start += c {
			chunks[i] = append(chunks[i], min(c, shape[i]-start))
		}
	}
	return chunks, nil
}

// SlicesFromChunks builds the partition table of an array: one Slice per
// chunk, in C order (the last axis varies fastest).
func SlicesFromChunks(chunks [][]int) []Slice {
	if len(chunks) == 0 {
		return []Slice{{}}
	}

	bounds := make([][]Range, len(chunks))
	total := 1
	for i, blocks := range chunks {
		start := 0
		for _, b := range blocks {
			bounds[i] = append(bounds[i], Range{Start: start, Stop: start + b})
			start += b
		}
		total *= len(blocks)
	}

	slices := make([]Slice, 0, total)
	_ = iterateGrid(GridOf(chunks), func(pos []int) error {
		s := make(Slice, len(pos))
		for i, p := range pos {
			s[i] = bounds[i][p]
		}
		slices = append(slices, s)
		return nil
	})
	return slices
}

// GridOf returns the number of blocks along each axis.
func GridOf(chunks [][]int) []int {
	grid := make([]int, len(chunks))
	for i, blocks := range chunks {
		grid[i] = len(blocks)
	}
	return grid
}

// iterateGrid visits every position of a grid in C order.
func iterateGrid(grid []int, fn func(pos []int) error) error {
	for _, n := range grid {
		if n == 0 {
			return nil
		}
	}
	pos := make([]int, len(grid))
	for {
		if err := fn(pos); err != nil {
			return err
		}

		i := len(grid) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < grid[i] {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}
