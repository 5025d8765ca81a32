package cell

import (
	"sync"
	"unsafe"

	"github.com/TuSKan/zarr-cells/lazy"
)

// Cell is one realized cell: a lease on its buffer and its placement within
// the array. Min and Dims are in RowMajor order.
type Cell struct {
	Index int
	Min   []int
	Dims  []int
	DType lazy.DType
	Lease *Lease
}

// Origin returns the cell origin in order o.
func (c *Cell) Origin(o AxisOrder) []int { return Ordered(c.Min, o) }

// Extent returns the cell size in order o.
func (c *Cell) Extent(o AxisOrder) []int { return Ordered(c.Dims, o) }

// Max returns the inclusive upper corner of the cell.
func (c *Cell) Max() []int {
	m := make([]int, len(c.Min))
	for i := range m {
		m[i] = c.Min[i] + c.Dims[i] - 1
	}
	return m
}

// Lease is a read-only handle on a realized buffer. The buffer's owner keeps
// it alive, and its address stable, until every lease on it is released.
// The bytes must not be modified.
type Lease struct {
	buf     *lazy.Buffer
	once    sync.Once
	release func()
}

func newLease(buf *lazy.Buffer, release func()) *Lease {
	return &Lease{buf: buf, release: release}
}

// Bytes returns the leased elements. It returns nil after Release.
func (l *Lease) Bytes() []byte {
	if l.buf == nil {
		return nil
	}
	return l.buf.Data
}

// Buffer returns the leased buffer. It returns nil after Release.
func (l *Lease) Buffer() *lazy.Buffer {
	return l.buf
}

// Addr returns the address of the first leased element, for consumers that
// address memory directly. It is 0 for empty or released leases.
func (l *Lease) Addr() uintptr {
	if l.buf == nil || len(l.buf.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&l.buf.Data[0]))
}

// Release ends the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.buf = nil
		if l.release != nil {
			l.release()
		}
	})
}
