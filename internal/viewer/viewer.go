// Package viewer renders one 2-D plane of a cell grid into an image.
//
// A Window is the handle on a render running in the background. It is open
// while the render is in progress and closes once the image has been
// written, the render failed, or Close was called. Callers block on the
// window's Closed channel (Wait) rather than polling it; Poll remains for
// handles that only expose an "is open" query.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/TuSKan/zarr-cells/cell"
	"github.com/TuSKan/zarr-cells/lazy"
)

// DefaultPollInterval is the interval Poll uses when none is given.
const DefaultPollInterval = 100 * time.Millisecond

// ErrPlaneOutOfRange is returned when a plane position lies outside the grid.
var ErrPlaneOutOfRange = errors.New("plane out of range")

// PixelType is the interpretation of a cell element as a pixel.
type PixelType int

const (
	// ARGB reads each element as a packed 0xAARRGGBB value.
	ARGB PixelType = iota
	// UnsignedInt maps each element linearly from a display range to grey.
	UnsignedInt
)

func (p PixelType) String() string {
	switch p {
	case ARGB:
		return "argb"
	case UnsignedInt:
		return "uint"
	default:
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
}

// ParsePixelType parses "argb" or "uint".
func ParsePixelType(s string) (PixelType, error) {
	switch s {
	case "argb":
		return ARGB, nil
	case "uint":
		return UnsignedInt, nil
	default:
		return 0, fmt.Errorf("unsupported pixel type: %s", s)
	}
}

// Range is the display range of UnsignedInt pixels. Values at or below Min
// are black, values at or above Max are white.
type Range struct {
	Min, Max float64
}

// CellSource serves the cells to render. *cell.Loader implements it.
type CellSource interface {
	Grid() *cell.Grid
	Get(ctx context.Context, index int) (*cell.Cell, error)
}

var _ CellSource = (*cell.Loader)(nil)

// Options configures a render.
type Options struct {
	// Plane fixes the position on every axis but the last two. Missing
	// entries are 0.
	Plane []int
	// Output is the PNG path written when the render completes. Empty
	// skips writing.
	Output string
	// Range is the display range for UnsignedInt.
	Range Range
	// AutoRange makes UnsignedInt use the value range of the plane's cells
	// instead of Range.
	AutoRange bool
	// Progress receives a spinner line while rendering. Nil disables it.
	Progress io.Writer
	Logger   logr.Logger
}

// Window is the handle on a background render.
type Window struct {
	ID uuid.UUID

	cancel context.CancelFunc
	closed chan struct{}
	img    *image.RGBA
	total  int
	done   atomic.Int64

	mu  sync.Mutex
	err error
	rng Range
}

// Closed returns a channel that is closed when the window closes.
func (w *Window) Closed() <-chan struct{} { return w.closed }

// IsOpen reports whether the render is still in progress.
func (w *Window) IsOpen() bool {
	select {
	case <-w.closed:
		return false
	default:
		return true
	}
}

// Close cancels the render. The window closes once the render goroutine
// has stopped.
func (w *Window) Close() { w.cancel() }

// Err returns the first error of the render, if any.
func (w *Window) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Image returns the rendered plane. It is only complete after the window
// closed without error.
func (w *Window) Image() image.Image { return w.img }

// ValueRange returns the display range in use. With AutoRange it is only
// known once the plane's cells have been scanned.
func (w *Window) ValueRange() Range {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng
}

// Progress returns the number of rendered cells and the number of cells in
// the plane.
func (w *Window) Progress() (rendered, total int) {
	return int(w.done.Load()), w.total
}

func (w *Window) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Show starts rendering the plane selected by opts.Plane and returns its
// window immediately. Only the cells intersecting the plane are requested.
func Show(ctx context.Context, src CellSource, pixel PixelType, opts Options) (*Window, error) {
	grid := src.Grid()
	rank := grid.NumDimensions()
	if rank == 0 {
		return nil, fmt.Errorf("cannot show a 0-d array")
	}
	if pixel != ARGB && pixel != UnsignedInt {
		return nil, fmt.Errorf("unsupported pixel type: %s", pixel)
	}
	if pixel == UnsignedInt && !opts.AutoRange && opts.Range.Max <= opts.Range.Min {
		return nil, fmt.Errorf("invalid display range [%g, %g]", opts.Range.Min, opts.Range.Max)
	}

	dims := grid.Dimensions(cell.RowMajor)
	lead := max(rank-2, 0)
	if len(opts.Plane) > lead {
		return nil, fmt.Errorf("%w: %d plane positions for %d leading axes", ErrPlaneOutOfRange, len(opts.Plane), lead)
	}
	plane := make([]int, lead)
	copy(plane, opts.Plane)
	for i, p := range plane {
		if p < 0 || p >= dims[i] {
			return nil, fmt.Errorf("%w: position %d on axis %d of size %d", ErrPlaneOutOfRange, p, i, dims[i])
		}
	}

	indices := planeCells(grid, plane)
	width, height := dims[rank-1], 1
	if rank > 1 {
		height = dims[rank-2]
	}

	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Window{
		ID:     uuid.New(),
		cancel: cancel,
		closed: make(chan struct{}),
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		total:  len(indices),
		rng:    opts.Range,
	}
	logger = logger.WithValues("window", w.ID.String())
	logger.Info("window opened", "plane", plane, "width", width, "height", height, "cells", len(indices))

	r := &renderer{
		src:    src,
		pixel:  pixel,
		rng:    opts.Range,
		plane:  plane,
		window: w,
	}

	go func() {
		defer close(w.closed)
		defer cancel()

		var spinnerWg sync.WaitGroup
		done := make(chan struct{})
		if opts.Progress != nil {
			spinnerWg.Add(1)
			go func() {
				defer spinnerWg.Done()
				showProgress(opts.Progress, w, done)
			}()
		}

		startTime := time.Now()
		var err error
		if pixel == UnsignedInt && opts.AutoRange {
			r.rng, err = r.scanRange(ctx, indices)
			if err == nil {
				w.mu.Lock()
				w.rng = r.rng
				w.mu.Unlock()
				logger.Info("scanned value range", "min", r.rng.Min, "max", r.rng.Max)
			}
		}
		if err == nil {
			err = r.render(ctx, indices)
		}
		if err == nil && opts.Output != "" {
			err = writePNG(opts.Output, w.img)
		}
		close(done)
		spinnerWg.Wait()

		if err != nil {
			w.setErr(err)
			logger.Error(err, "render failed")
			return
		}
		logger.Info("window closed", "duration", time.Since(startTime).String(), "output", opts.Output)
	}()

	return w, nil
}

// planeCells lists the flat indices of the cells that intersect the plane.
func planeCells(grid *cell.Grid, plane []int) []int {
	rank := grid.NumDimensions()
	gridDims := grid.GridDimensions(cell.RowMajor)
	cellDims := grid.CellDimensions(cell.RowMajor)

	pos := make([]int, rank)
	for i, p := range plane {
		pos[i] = p / cellDims[i]
	}

	rows := 1
	if rank > 1 {
		rows = gridDims[rank-2]
	}
	var indices []int
	for r := 0; r < rows; r++ {
		if rank > 1 {
			pos[rank-2] = r
		}
		for c := 0; c < gridDims[rank-1]; c++ {
			pos[rank-1] = c
			indices = append(indices, grid.CellIndex(pos))
		}
	}
	return indices
}

type renderer struct {
	src    CellSource
	pixel  PixelType
	rng    Range
	plane  []int
	window *Window
}

func (r *renderer) render(ctx context.Context, indices []int) error {
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.src.Get(ctx, index)
		if err != nil {
			return err
		}
		r.paint(c)
		c.Lease.Release()
		r.window.done.Add(1)
	}
	return nil
}

// paint copies the plane's intersection with c into the image.
func (r *renderer) paint(c *cell.Cell) {
	buf := c.Lease.Buffer()
	rank := len(c.Dims)
	strides := lazy.Strides(c.Dims)

	base := 0
	for i, p := range r.plane {
		base += (p - c.Min[i]) * strides[i]
	}

	rows, y0, rowStride := 1, 0, 0
	if rank > 1 {
		rows, y0, rowStride = c.Dims[rank-2], c.Min[rank-2], strides[rank-2]
	}
	x0 := c.Min[rank-1]
	for y := 0; y < rows; y++ {
		for x := 0; x < c.Dims[rank-1]; x++ {
			r.window.img.Set(x0+x, y0+y, r.pixelAt(buf, base+y*rowStride+x))
		}
	}
}

func (r *renderer) pixelAt(buf *lazy.Buffer, i int) color.Color {
	if r.pixel == ARGB {
		v := buf.Uint32At(i)
		// Alpha is not composited.
		return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
	}
	f := (buf.Float64At(i) - r.rng.Min) / (r.rng.Max - r.rng.Min)
	return color.Gray{Y: uint8(min(max(f, 0), 1) * 255)}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func showProgress(out io.Writer, w *Window, done <-chan struct{}) {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			rendered, total := w.Progress()
			fmt.Fprintf(out, "\r%s Rendered %s cells.\n", "✓", countStyle.Render(fmt.Sprintf("%d/%d", rendered, total)))
			return
		case <-ticker.C:
			s, _ = s.Update(spinner.TickMsg{})
			rendered, total := w.Progress()
			fmt.Fprintf(out, "\r%s Rendering cells %d/%d...", s.View(), rendered, total)
		}
	}
}

// Wait blocks until the window closes and returns its error, or until ctx
// is done.
func Wait(ctx context.Context, w *Window) error {
	select {
	case <-w.Closed():
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll blocks until isOpen reports false, checking every interval
// (DefaultPollInterval if interval is not positive).
func Poll(ctx context.Context, isOpen func() bool, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for isOpen() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
