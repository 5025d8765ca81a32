package main

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"golang.org/x/image/bmp"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	zarr "github.com/TuSKan/zarr-cells"
	"github.com/TuSKan/zarr-cells/cell"
	"github.com/TuSKan/zarr-cells/internal/config"
	"github.com/TuSKan/zarr-cells/internal/logger"
	"github.com/TuSKan/zarr-cells/internal/viewer"
	"github.com/TuSKan/zarr-cells/lazy"
)

// defaultImageChunks is the cell size of image sources when --chunks is not
// set.
var defaultImageChunks = []int{20, 30}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if err = cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logFile, log, err := logger.Init(cfg.LogFile, cfg.Verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, log); err != nil {
		log.Error(err, "application error")
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		stop()
		logFile.Close()
		os.Exit(1)
	}
}

// parseFlags parses args over the defaults. When --config names a file, its
// values replace the defaults and explicit flags still win.
func parseFlags(args []string) (*config.Config, error) {
	cfg := config.Default()
	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path, _ := fs.GetString("config")
	if path == "" {
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := newFlagSet(cfg).Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(cfg *config.Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("cellview", pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML config file.")
	fs.StringVarP(&cfg.Source, "source", "s", cfg.Source, "Array source (random, zarr, image).")
	fs.StringVarP(&cfg.Path, "path", "p", cfg.Path, "Zarr URL (file://, gs://, s3://) or image file for the zarr and image sources.")
	fs.IntSliceVar(&cfg.Shape, "shape", cfg.Shape, "Shape of the random array, slowest axis first.")
	fs.IntSliceVar(&cfg.Chunks, "chunks", cfg.Chunks, "Chunk size, slowest axis first. Unset keeps the native chunks of a zarr array, 20,30 for images and 10,20,30 for a 3-d random array.")
	fs.StringVar(&cfg.Pixel, "pixel", cfg.Pixel, "Pixel type (argb, uint).")
	fs.IntSliceVar(&cfg.Plane, "plane", cfg.Plane, "Position on each leading axis of the rendered plane.")
	fs.Float64Var(&cfg.RangeMin, "range-min", cfg.RangeMin, "Lower bound of the uint display range.")
	fs.Float64Var(&cfg.RangeMax, "range-max", cfg.RangeMax, "Upper bound of the uint display range.")
	fs.BoolVar(&cfg.AutoRange, "auto-range", cfg.AutoRange, "Map the uint display range to the values of the rendered cells.")
	fs.StringVarP(&cfg.Output, "output", "o", cfg.Output, "PNG file the plane is written to.")
	fs.BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, "Realize every cell request instead of caching chunks.")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of the random source.")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path to the log file.")
	fs.IntVarP(&cfg.Verbosity, "verbosity", "v", cfg.Verbosity, "Log verbosity; 1 logs every cell realization.")
	return fs
}

func run(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()
	log.Info("opened source", "source", cfg.Source, "shape", src.Shape(), "dtype", src.DType().String())

	loader, err := cell.NewLoader(src, cell.WithCache(!cfg.NoCache), cell.WithLogger(log.WithName("loader")))
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	grid := loader.Grid()
	log.Info("created loader",
		"dimensions", grid.Dimensions(cell.XYZ),
		"cellDimensions", grid.CellDimensions(cell.XYZ),
		"cells", grid.NumCells())

	pixel, err := viewer.ParsePixelType(cfg.Pixel)
	if err != nil {
		return err
	}
	w, err := viewer.Show(ctx, loader, pixel, viewer.Options{
		Plane:     cfg.Plane,
		Output:    cfg.Output,
		Range:     viewer.Range{Min: cfg.RangeMin, Max: cfg.RangeMax},
		AutoRange: cfg.AutoRange,
		Progress:  os.Stdout,
		Logger:    log.WithName("viewer"),
	})
	if err != nil {
		return fmt.Errorf("failed to show plane: %w", err)
	}

	if err := viewer.Wait(ctx, w); err != nil {
		w.Close()
		<-w.Closed()
		return err
	}
	if cache := loader.Cache(); cache != nil {
		log.Info("cache usage", "chunks", cache.Len())
	}
	fmt.Printf("Plane written to %s\n", cfg.Output)
	return loader.Close()
}

// openSource builds the lazy array named by cfg. The returned func releases
// the source.
func openSource(ctx context.Context, cfg *config.Config) (lazy.Source, func(), error) {
	noop := func() {}
	switch cfg.Source {
	case "random":
		low, high := int32(0), int32(math.MaxInt32)
		if cfg.Pixel == "uint" {
			low, high = randomBounds(cfg.RangeMin, cfg.RangeMax)
		}
		arr, err := lazy.Random(cfg.Shape, cfg.RandomChunks(), cfg.Seed, low, high)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create random array: %w", err)
		}
		return arr, noop, nil

	case "zarr":
		reader, err := zarr.NewReader(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open zarr array: %w", err)
		}
		closeReader := func() { reader.Close() }
		if len(cfg.Chunks) == 0 {
			return reader, closeReader, nil
		}
		src, err := lazy.Rechunk(reader, cfg.Chunks)
		if err != nil {
			reader.Close()
			return nil, nil, fmt.Errorf("failed to rechunk zarr array: %w", err)
		}
		return src, closeReader, nil

	case "image":
		img, err := loadImage(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load image: %w", err)
		}
		chunks := defaultImageChunks
		if len(cfg.Chunks) != 0 {
			chunks = cfg.Chunks
		}
		arr, err := lazy.FromImage(img, chunks)
		if err != nil {
			return nil, nil, err
		}
		return arr, noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported source: %s", cfg.Source)
	}
}

// randomBounds converts the display range into the half-open value range of
// the random source, clamped to int32.
func randomBounds(rangeMin, rangeMax float64) (low, high int32) {
	lo := min(max(math.Ceil(rangeMin), math.MinInt32), math.MaxInt32-1)
	hi := min(max(math.Floor(rangeMax), lo), math.MaxInt32-1)
	return int32(lo), int32(hi) + 1
}

// loadImage decodes a jpeg, png or bmp file, chosen by extension.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpeg", ".jpg":
		img, err = jpeg.Decode(file)
	case ".png":
		img, err = png.Decode(file)
	case ".bmp":
		img, err = bmp.Decode(file)
	default:
		img, _, err = image.Decode(file)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	return img, nil
}
