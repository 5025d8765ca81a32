// Package cell maps the chunks of a lazy array onto a cell grid and hands
// them out on demand.
//
// All coordinates in this package are in the array's row-major order: the
// first axis is the slowest varying and flat cell indices enumerate the grid
// with the last axis fastest, the same order as lazy.SlicesFromChunks.
// Consumers that use the opposite convention convert with XYZ.
package cell

import (
	"fmt"

	"github.com/TuSKan/zarr-cells/lazy"
)

// AxisOrder selects how coordinate vectors are laid out at the boundary.
type AxisOrder int

const (
	// RowMajor is the array order: slowest axis first.
	RowMajor AxisOrder = iota
	// XYZ is the fastest axis first, as used by most image viewers.
	XYZ
)

// Ordered returns v laid out in order o. v must be in RowMajor order.
func Ordered(v []int, o AxisOrder) []int {
	out := append([]int(nil), v...)
	if o == XYZ {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Grid describes a regular partition of an array into cells. Cells at the
// upper boundary of an axis may be smaller than the nominal cell size.
type Grid struct {
	dims     []int
	cellDims []int
	gridDims []int
	strides  []int
	numCells int
}

// NewGrid creates a grid over an array of size dims with nominal cell size
// cellDims.
func NewGrid(dims, cellDims []int) (*Grid, error) {
	if len(dims) != len(cellDims) {
		return nil, fmt.Errorf("cell dimensions rank %d does not match array rank %d", len(cellDims), len(dims))
	}
	for i := range dims {
		if dims[i] <= 0 || cellDims[i] <= 0 {
			return nil, fmt.Errorf("dimension %d must be positive: array %d, cell %d", i, dims[i], cellDims[i])
		}
	}

	gridDims := lazy.GridShape(dims, cellDims)
	numCells := 1
	for _, n := range gridDims {
		numCells *= n
	}
	return &Grid{
		dims:     append([]int(nil), dims...),
		cellDims: append([]int(nil), cellDims...),
		gridDims: gridDims,
		strides:  lazy.Strides(gridDims),
		numCells: numCells,
	}, nil
}

func (g *Grid) NumDimensions() int { return len(g.dims) }

// NumCells returns the total number of cells.
func (g *Grid) NumCells() int { return g.numCells }

// Dimensions returns the array size.
func (g *Grid) Dimensions(o AxisOrder) []int { return Ordered(g.dims, o) }

// CellDimensions returns the nominal cell size.
func (g *Grid) CellDimensions(o AxisOrder) []int { return Ordered(g.cellDims, o) }

// GridDimensions returns the number of cells along each axis.
func (g *Grid) GridDimensions(o AxisOrder) []int { return Ordered(g.gridDims, o) }

// Contains reports whether index addresses a cell of the grid.
func (g *Grid) Contains(index int) bool {
	return index >= 0 && index < g.numCells
}

// CellPosition converts a flat index into grid coordinates.
func (g *Grid) CellPosition(index int) []int {
	pos := make([]int, len(g.gridDims))
	for i, s := range g.strides {
		pos[i] = index / s
		index %= s
	}
	return pos
}

// CellIndex converts grid coordinates into a flat index.
func (g *Grid) CellIndex(pos []int) int {
	index := 0
	for i, p := range pos {
		index += p * g.strides[i]
	}
	return index
}

// CellMin returns the origin of a cell in array coordinates.
func (g *Grid) CellMin(index int) []int {
	pos := g.CellPosition(index)
	for i := range pos {
		pos[i] *= g.cellDims[i]
	}
	return pos
}

// CellExtent returns the size of a cell, truncated at the array boundary.
func (g *Grid) CellExtent(index int) []int {
	ext := g.CellMin(index)
	for i, m := range ext {
		ext[i] = min(g.cellDims[i], g.dims[i]-m)
	}
	return ext
}
