package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	zarr "github.com/TuSKan/zarr-cells"
	"github.com/TuSKan/zarr-cells/internal/config"
	"github.com/TuSKan/zarr-cells/lazy"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"--shape", "4,5,6", "--chunks=2,2,2", "--plane", "1", "--no-cache"})
	require.NoError(t, err)
	require.Equal(t, []int{4, 5, 6}, cfg.Shape)
	require.Equal(t, []int{2, 2, 2}, cfg.Chunks)
	require.Equal(t, []int{1}, cfg.Plane)
	require.True(t, cfg.NoCache)
	require.Equal(t, "random", cfg.Source)
}

func TestParseFlags_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source: image\npath: a.png\npixel: uint\n"), 0644))

	cfg, err := parseFlags([]string{"--config", path, "--pixel", "argb"})
	require.NoError(t, err)
	require.Equal(t, "image", cfg.Source)
	require.Equal(t, "a.png", cfg.Path)
	require.Equal(t, "argb", cfg.Pixel, "explicit flags override the file")

	_, err = parseFlags([]string{"--bogus"})
	require.Error(t, err)
}

func TestOpenSource_Image(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 40))
	img.SetGray(3, 2, color.Gray{Y: 200})
	path := filepath.Join(t.TempDir(), "plane.bmp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, img))
	require.NoError(t, f.Close())

	cfg := config.Default()
	cfg.Source = "image"
	cfg.Path = path
	src, closeSource, err := openSource(context.Background(), cfg)
	require.NoError(t, err)
	defer closeSource()

	require.Equal(t, []int{40, 50}, src.Shape())
	require.Equal(t, [][]int{{20, 20}, {30, 20}}, src.Chunks())
}

// writeZarrArray stores the metadata of an empty int32 zarr array and
// returns its file URL. Every chunk reads as the fill value.
func writeZarrArray(t *testing.T, shape, chunks []int) string {
	t.Helper()
	dir := t.TempDir()
	meta, err := json.Marshal(zarr.Metadata{ZarrFormat: 2, Shape: shape, Chunks: chunks, DType: "<i4", Order: "C"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zarray"), meta, 0644))
	return "file:///" + filepath.ToSlash(dir)
}

func TestOpenSource_Zarr(t *testing.T) {
	url := writeZarrArray(t, []int{100, 200, 290}, []int{50, 100, 145})
	ctx := context.Background()

	open := func(args ...string) lazy.Source {
		cfg, err := parseFlags(append([]string{"--source", "zarr", "--path", url}, args...))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		src, closeSource, err := openSource(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(closeSource)
		return src
	}

	// Native chunking is kept unless chunks are asked for.
	require.Equal(t, [][]int{{50, 50}, {100, 100}, {145, 145}}, open().Chunks())

	rechunked := open("--chunks", "25,100,145").Chunks()
	require.Equal(t, []int{25, 25, 25, 25}, rechunked[0])
	require.Equal(t, []int{100, 100}, rechunked[1])

	configPath := filepath.Join(t.TempDir(), "cellview.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("chunks: [50, 50, 145]\n"), 0644))
	fromFile := open("--config", configPath).Chunks()
	require.Equal(t, []int{50, 50, 50, 50}, fromFile[1])

	cfg := config.Default()
	cfg.Source = "zarr"
	cfg.Path = url
	cfg.Chunks = []int{10}
	_, _, err := openSource(ctx, cfg)
	require.ErrorContains(t, err, "failed to rechunk")
}

func TestRandomBounds(t *testing.T) {
	tests := []struct {
		min, max  float64
		low, high int32
	}{
		{0, 255, 0, 256},
		{-10.5, 10.5, -10, 11},
		{-1e12, 1e12, math.MinInt32, math.MaxInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32 - 1, math.MaxInt32},
	}

	for _, tt := range tests {
		low, high := randomBounds(tt.min, tt.max)
		require.Equal(t, tt.low, low, "low of [%g, %g]", tt.min, tt.max)
		require.Equal(t, tt.high, high, "high of [%g, %g]", tt.min, tt.max)
		require.Less(t, low, high)
	}
}

func TestRun_Random(t *testing.T) {
	cfg := config.Default()
	cfg.Shape = []int{6, 8, 10}
	cfg.Chunks = []int{2, 3, 4}
	cfg.Plane = []int{5}
	cfg.Output = filepath.Join(t.TempDir(), "plane.png")
	require.NoError(t, cfg.Validate())

	require.NoError(t, run(context.Background(), cfg, testr.New(t)))
	info, err := os.Stat(cfg.Output)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}
