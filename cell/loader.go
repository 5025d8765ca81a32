package cell

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/uber-go/tally/v4"

	"github.com/TuSKan/zarr-cells/lazy"
)

var (
	// ErrIndexOutOfRange is returned for a cell index outside [0, NumCells).
	ErrIndexOutOfRange = errors.New("cell index out of range")
	// ErrIrregularChunks is returned when a source's chunks cannot be described
	// by a regular grid.
	ErrIrregularChunks = errors.New("irregular chunks")
	// ErrShapeMismatch is returned when a source realizes a block whose shape
	// differs from the requested slice.
	ErrShapeMismatch = errors.New("realized shape does not match slice")
	// ErrLeasesOutstanding is returned by Close while leases are held.
	ErrLeasesOutstanding = errors.New("leases outstanding")
)

func leasesOutstanding(n int) error {
	return fmt.Errorf("%w: %d", ErrLeasesOutstanding, n)
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache enables or disables the chunk cache. It is enabled by default.
// Without it every Get realizes its chunk again and the returned lease is the
// only owner of the buffer.
func WithCache(enabled bool) Option {
	return func(l *Loader) {
		if enabled {
			l.cache = NewCache()
		} else {
			l.cache = nil
		}
	}
}

// WithLogger sets the logger. Cache activity is logged at V(1).
func WithLogger(logger logr.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMetrics reports realizations and cache hits to scope.
func WithMetrics(scope tally.Scope) Option {
	return func(l *Loader) {
		l.scope = scope
	}
}

// Loader serves the cells of a grid laid over a lazy source, realizing each
// chunk the first time its cell is requested. It is safe for concurrent use.
type Loader struct {
	src    lazy.Source
	slices []lazy.Slice
	grid   *Grid
	dtype  lazy.DType
	cache  *Cache
	logger logr.Logger
	scope  tally.Scope
}

// NewLoader builds the grid from src's shape and nominal chunk size (the first
// block along each axis).
func NewLoader(src lazy.Source, opts ...Option) (*Loader, error) {
	shape := src.Shape()
	chunks := src.Chunks()
	if len(chunks) != len(shape) {
		return nil, fmt.Errorf("chunks rank %d does not match shape rank %d", len(chunks), len(shape))
	}

	cellDims := make([]int, len(shape))
	for i, blocks := range chunks {
		if len(blocks) == 0 {
			return nil, fmt.Errorf("%w: no chunks along dimension %d", ErrIrregularChunks, i)
		}
		cellDims[i] = blocks[0]
		sum := 0
		for j, b := range blocks {
			last := j == len(blocks)-1
			if (!last && b != cellDims[i]) || (last && b > cellDims[i]) {
				return nil, fmt.Errorf("%w: block %d along dimension %d has size %d, nominal %d", ErrIrregularChunks, j, i, b, cellDims[i])
			}
			sum += b
		}
		if sum != shape[i] {
			return nil, fmt.Errorf("%w: blocks along dimension %d cover %d of %d", ErrIrregularChunks, i, sum, shape[i])
		}
	}

	grid, err := NewGrid(shape, cellDims)
	if err != nil {
		return nil, err
	}
	parts := lazy.SlicesFromChunks(chunks)
	if len(parts) != grid.NumCells() {
		return nil, fmt.Errorf("%w: %d chunks for %d cells", ErrIrregularChunks, len(parts), grid.NumCells())
	}

	l := &Loader{
		src:    src,
		slices: parts,
		grid:   grid,
		dtype:  src.DType(),
		cache:  NewCache(),
		logger: logr.Discard(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Grid returns the cell grid.
func (l *Loader) Grid() *Grid { return l.grid }

// DType returns the element type of the cells.
func (l *Loader) DType() lazy.DType { return l.dtype }

// Cache returns the chunk cache, or nil if caching is disabled.
func (l *Loader) Cache() *Cache { return l.cache }

// Get returns the cell at a flat index. The caller must release the cell's
// lease once it no longer reads the cell's bytes.
func (l *Loader) Get(ctx context.Context, index int) (*Cell, error) {
	if !l.grid.Contains(index) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, l.grid.NumCells())
	}

	var (
		buf   *lazy.Buffer
		lease *Lease
		err   error
	)
	if l.cache != nil {
		var hit bool
		buf, hit, err = l.cache.getOrRealize(ctx, index, func(ctx context.Context) (*lazy.Buffer, error) {
			return l.realize(ctx, index)
		})
		if err != nil {
			return nil, err
		}
		if hit {
			l.scope.Counter("cache_hit").Inc(1)
			l.logger.V(1).Info("cache hit", "index", index)
		}
		lease = l.cache.lease(index, buf)
	} else {
		buf, err = l.realize(ctx, index)
		if err != nil {
			return nil, err
		}
		lease = newLease(buf, nil)
	}

	return &Cell{
		Index: index,
		Min:   l.grid.CellMin(index),
		Dims:  append([]int(nil), buf.Shape...),
		DType: buf.DType,
		Lease: lease,
	}, nil
}

func (l *Loader) realize(ctx context.Context, index int) (*lazy.Buffer, error) {
	s := l.slices[index]
	start := time.Now()
	buf, err := l.src.Realize(ctx, s)
	if err != nil {
		l.scope.Counter("realize_error").Inc(1)
		return nil, fmt.Errorf("failed to realize cell %d %s: %w", index, s, err)
	}
	l.scope.Timer("realize_latency").Record(time.Since(start))
	l.scope.Counter("realize").Inc(1)

	if !slices.Equal(buf.Shape, s.Shape()) {
		return nil, fmt.Errorf("%w: cell %d realized %v, slice %s", ErrShapeMismatch, index, buf.Shape, s)
	}
	l.logger.V(1).Info("realized cell", "index", index, "slice", s.String(), "bytes", len(buf.Data))
	return buf, nil
}

// Close drops the cache. It fails while leases on cached buffers are held.
func (l *Loader) Close() error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Clear()
}
