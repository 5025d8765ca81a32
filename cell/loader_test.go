package cell_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/mock/gomock"

	"github.com/TuSKan/zarr-cells/cell"
	"github.com/TuSKan/zarr-cells/lazy"
)

type loaderTestDeps struct {
	controller *gomock.Controller
	source     *lazy.MockSource
}

// setupMockSource returns a mock source describing an int32 array of the given
// shape and chunk size. Realize expectations are left to the caller.
func setupMockSource(t *testing.T, shape, chunkSize []int) *loaderTestDeps {
	controller := gomock.NewController(t)
	source := lazy.NewMockSource(controller)

	chunks, err := lazy.NormalizeChunks(shape, chunkSize)
	require.NoError(t, err)
	source.EXPECT().Shape().Return(shape).AnyTimes()
	source.EXPECT().Chunks().Return(chunks).AnyTimes()
	source.EXPECT().DType().Return(lazy.Int32).AnyTimes()

	return &loaderTestDeps{controller: controller, source: source}
}

func realizeZeros(_ context.Context, s lazy.Slice) (*lazy.Buffer, error) {
	return lazy.NewBuffer(s.Shape(), lazy.Int32), nil
}

func TestLoader_FirstCell(t *testing.T) {
	deps := setupMockSource(t, []int{100, 200, 290}, []int{10, 20, 30})
	deps.source.EXPECT().
		Realize(gomock.Any(), lazy.Slice{{Start: 0, Stop: 10}, {Start: 0, Stop: 20}, {Start: 0, Stop: 30}}).
		DoAndReturn(realizeZeros).
		Times(1)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)
	require.Equal(t, 1000, loader.Grid().NumCells())

	c, err := loader.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, c.Index)
	require.Equal(t, []int{10, 20, 30}, c.Dims)
	require.Equal(t, []int{0, 0, 0}, c.Min)
	require.Equal(t, []int{30, 20, 10}, c.Extent(cell.XYZ))
	require.Equal(t, []int{9, 19, 29}, c.Max())
	require.Equal(t, lazy.Int32, c.DType)
	require.Len(t, c.Lease.Bytes(), 10*20*30*4)
}

func TestLoader_BoundaryCellIsTruncated(t *testing.T) {
	deps := setupMockSource(t, []int{100, 200, 290}, []int{10, 20, 30})
	deps.source.EXPECT().
		Realize(gomock.Any(), lazy.Slice{{Start: 0, Stop: 10}, {Start: 0, Stop: 20}, {Start: 270, Stop: 290}}).
		DoAndReturn(realizeZeros).
		Times(1)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	c, err := loader.Get(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, []int{10, 20, 20}, c.Dims)
	require.Equal(t, []int{0, 0, 270}, c.Min)
	require.Equal(t, []int{270, 0, 0}, c.Origin(cell.XYZ))
	require.Equal(t, loader.Grid().CellExtent(9), c.Dims)
}

func TestLoader_CacheRealizesOnce(t *testing.T) {
	deps := setupMockSource(t, []int{100, 200, 290}, []int{10, 20, 30})
	deps.source.EXPECT().
		Realize(gomock.Any(), gomock.Any()).
		DoAndReturn(realizeZeros).
		Times(1)

	scope := tally.NewTestScope("", nil)
	loader, err := cell.NewLoader(deps.source,
		cell.WithMetrics(scope),
		cell.WithLogger(testr.NewWithOptions(t, testr.Options{Verbosity: 1})),
	)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := loader.Get(ctx, 0)
	require.NoError(t, err)
	second, err := loader.Get(ctx, 0)
	require.NoError(t, err)

	require.NotZero(t, first.Lease.Addr())
	require.Equal(t, first.Lease.Addr(), second.Lease.Addr())
	require.Same(t, first.Lease.Buffer(), second.Lease.Buffer())
	require.True(t, loader.Cache().Contains(0))
	require.Equal(t, 1, loader.Cache().Len())

	require.Equal(t, int64(1), counterValue(scope, "realize"))
	require.Equal(t, int64(1), counterValue(scope, "cache_hit"))
}

func TestLoader_WithoutCacheRealizesEveryTime(t *testing.T) {
	deps := setupMockSource(t, []int{4, 4}, []int{2, 2})
	deps.source.EXPECT().
		Realize(gomock.Any(), lazy.Slice{{Start: 2, Stop: 4}, {Start: 0, Stop: 2}}).
		DoAndReturn(realizeZeros).
		Times(2)

	loader, err := cell.NewLoader(deps.source, cell.WithCache(false))
	require.NoError(t, err)
	require.Nil(t, loader.Cache())

	ctx := context.Background()
	first, err := loader.Get(ctx, 2)
	require.NoError(t, err)
	second, err := loader.Get(ctx, 2)
	require.NoError(t, err)

	// The uncached variant still places the cell at its grid origin.
	require.Equal(t, []int{2, 0}, first.Min)
	require.Equal(t, []int{2, 0}, second.Min)
	require.NotSame(t, first.Lease.Buffer(), second.Lease.Buffer())
	require.NoError(t, loader.Close())
}

func TestLoader_IndexOutOfRange(t *testing.T) {
	deps := setupMockSource(t, []int{100, 200, 290}, []int{10, 20, 30})

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = loader.Get(ctx, loader.Grid().NumCells())
	require.ErrorIs(t, err, cell.ErrIndexOutOfRange)
	_, err = loader.Get(ctx, -1)
	require.ErrorIs(t, err, cell.ErrIndexOutOfRange)
}

func TestLoader_RealizeErrorPropagates(t *testing.T) {
	deps := setupMockSource(t, []int{4}, []int{2})
	expectedErr := errors.New("out of memory")
	gomock.InOrder(
		deps.source.EXPECT().Realize(gomock.Any(), lazy.Slice{{Start: 0, Stop: 2}}).Return(nil, expectedErr),
		deps.source.EXPECT().Realize(gomock.Any(), lazy.Slice{{Start: 0, Stop: 2}}).DoAndReturn(realizeZeros),
	)

	scope := tally.NewTestScope("", nil)
	loader, err := cell.NewLoader(deps.source, cell.WithMetrics(scope))
	require.NoError(t, err)

	ctx := context.Background()
	c, err := loader.Get(ctx, 0)
	require.Nil(t, c)
	require.ErrorIs(t, err, expectedErr)
	require.False(t, loader.Cache().Contains(0))
	require.Equal(t, int64(1), counterValue(scope, "realize_error"))

	// failures are not cached
	c, err = loader.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []int{2}, c.Dims)
}

func TestLoader_ShapeMismatch(t *testing.T) {
	deps := setupMockSource(t, []int{4}, []int{2})
	deps.source.EXPECT().
		Realize(gomock.Any(), gomock.Any()).
		Return(lazy.NewBuffer([]int{3}, lazy.Int32), nil)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	_, err = loader.Get(context.Background(), 1)
	require.ErrorIs(t, err, cell.ErrShapeMismatch)
}

func TestLoader_IrregularChunks(t *testing.T) {
	controller := gomock.NewController(t)
	source := lazy.NewMockSource(controller)
	source.EXPECT().Shape().Return([]int{10}).AnyTimes()
	source.EXPECT().Chunks().Return([][]int{{3, 4, 3}}).AnyTimes()
	source.EXPECT().DType().Return(lazy.Int32).AnyTimes()

	_, err := cell.NewLoader(source)
	require.ErrorIs(t, err, cell.ErrIrregularChunks)
}

func TestLoader_ChunksMustCoverShape(t *testing.T) {
	tests := map[string][][]int{
		"short":   {{10, 10, 5}},
		"overrun": {{10, 10, 10, 5}},
	}

	for name, chunks := range tests {
		t.Run(name, func(t *testing.T) {
			controller := gomock.NewController(t)
			source := lazy.NewMockSource(controller)
			source.EXPECT().Shape().Return([]int{30}).AnyTimes()
			source.EXPECT().Chunks().Return(chunks).AnyTimes()
			source.EXPECT().DType().Return(lazy.Int32).AnyTimes()

			_, err := cell.NewLoader(source)
			require.ErrorIs(t, err, cell.ErrIrregularChunks)
		})
	}
}

func TestLoader_ConcurrentGetRealizesOnce(t *testing.T) {
	deps := setupMockSource(t, []int{8, 8}, []int{4, 4})
	release := make(chan struct{})
	deps.source.EXPECT().
		Realize(gomock.Any(), lazy.Slice{{Start: 4, Stop: 8}, {Start: 0, Stop: 4}}).
		DoAndReturn(func(ctx context.Context, s lazy.Slice) (*lazy.Buffer, error) {
			<-release
			return realizeZeros(ctx, s)
		}).
		Times(1)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	const n = 8
	cells := make([]*cell.Cell, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cells[i], errs[i] = loader.Get(context.Background(), 2)
		}(i)
	}
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, cells[0].Lease.Addr(), cells[i].Lease.Addr())
	}
	require.Equal(t, n, loader.Cache().Outstanding())
}

func TestLoader_WaitRespectsContext(t *testing.T) {
	deps := setupMockSource(t, []int{2}, []int{2})
	started := make(chan struct{})
	release := make(chan struct{})
	deps.source.EXPECT().
		Realize(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, s lazy.Slice) (*lazy.Buffer, error) {
			close(started)
			<-release
			return realizeZeros(ctx, s)
		}).
		Times(1)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := loader.Get(context.Background(), 0)
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Get(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
}

func TestLoader_RealizePanicReleasesWaiters(t *testing.T) {
	deps := setupMockSource(t, []int{4}, []int{2})
	started := make(chan struct{})
	release := make(chan struct{})
	gomock.InOrder(
		deps.source.EXPECT().
			Realize(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, lazy.Slice) (*lazy.Buffer, error) {
				close(started)
				<-release
				panic("decoder crashed")
			}),
		deps.source.EXPECT().
			Realize(gomock.Any(), gomock.Any()).
			DoAndReturn(realizeZeros),
	)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)
	ctx := context.Background()

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_, _ = loader.Get(ctx, 0)
	}()
	<-started

	waiter := make(chan error, 1)
	go func() {
		c, err := loader.Get(ctx, 0)
		if err == nil {
			c.Lease.Release()
		}
		waiter <- err
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	require.Equal(t, "decoder crashed", <-recovered)
	select {
	case <-waiter:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter blocked after a panicking realization")
	}

	c, err := loader.Get(ctx, 0)
	require.NoError(t, err)
	c.Lease.Release()
	require.Equal(t, 1, loader.Cache().Len())
}

func TestLoader_CloseWithOutstandingLeases(t *testing.T) {
	deps := setupMockSource(t, []int{4}, []int{2})
	deps.source.EXPECT().Realize(gomock.Any(), gomock.Any()).DoAndReturn(realizeZeros).Times(1)

	loader, err := cell.NewLoader(deps.source)
	require.NoError(t, err)

	c, err := loader.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, loader.Cache().Outstanding())

	err = loader.Close()
	require.ErrorIs(t, err, cell.ErrLeasesOutstanding)

	c.Lease.Release()
	c.Lease.Release()
	require.Nil(t, c.Lease.Bytes())
	require.Zero(t, c.Lease.Addr())
	require.Equal(t, 0, loader.Cache().Outstanding())
	require.NoError(t, loader.Close())
	require.Equal(t, 0, loader.Cache().Len())
}

// TestLoader_CellsTileTheArray checks that every element of the array is
// covered by exactly one cell and that each cell carries the source values
// at its placement.
func TestLoader_CellsTileTheArray(t *testing.T) {
	shape := []int{7, 5, 9}
	arr, err := lazy.Generate(shape, []int{3, 2, 4}, func(index []int) uint32 {
		return uint32(index[0]*100 + index[1]*10 + index[2])
	})
	require.NoError(t, err)

	loader, err := cell.NewLoader(arr)
	require.NoError(t, err)
	grid := loader.Grid()
	require.Equal(t, 3*3*3, grid.NumCells())

	cellDims := grid.CellDimensions(cell.RowMajor)
	covered := make([]int, 7*5*9)
	strides := lazy.Strides(shape)
	ctx := context.Background()

	for i := 0; i < grid.NumCells(); i++ {
		c, err := loader.Get(ctx, i)
		require.NoError(t, err)

		pos := grid.CellPosition(i)
		for d := range pos {
			require.Equal(t, pos[d]*cellDims[d], c.Min[d])
		}

		buf := c.Lease.Buffer()
		k := 0
		for x := 0; x < c.Dims[0]; x++ {
			for y := 0; y < c.Dims[1]; y++ {
				for z := 0; z < c.Dims[2]; z++ {
					g := []int{c.Min[0] + x, c.Min[1] + y, c.Min[2] + z}
					covered[g[0]*strides[0]+g[1]*strides[1]+g[2]]++
					require.Equal(t, uint32(g[0]*100+g[1]*10+g[2]), buf.Uint32At(k))
					k++
				}
			}
		}
		c.Lease.Release()
	}

	for i, n := range covered {
		require.Equal(t, 1, n, "element %d covered %d times", i, n)
	}
}

func counterValue(scope tally.TestScope, name string) int64 {
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}
