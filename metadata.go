package zarr

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/TuSKan/zarr-cells/lazy"
)

// CompressorConfig represents the Zarr compressor metadata.
type CompressorConfig struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// Metadata represents the Zarr V2 .zarray metadata.
type Metadata struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          interface{}       `json:"fill_value"`
	Order              string            `json:"order"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// LoadMetadata reads and parses .zarray metadata.
func LoadMetadata(reader io.Reader) (*Metadata, error) {
	var meta Metadata
	if err := json.NewDecoder(reader).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format: %d, expected 2", meta.ZarrFormat)
	}
	if len(meta.Chunks) != len(meta.Shape) {
		return nil, fmt.Errorf("chunks rank %d does not match shape rank %d", len(meta.Chunks), len(meta.Shape))
	}
	for i := range meta.Shape {
		if meta.Shape[i] < 0 {
			return nil, fmt.Errorf("negative shape %d at dimension %d", meta.Shape[i], i)
		}
		if meta.Chunks[i] <= 0 {
			return nil, fmt.Errorf("non-positive chunk size %d at dimension %d", meta.Chunks[i], i)
		}
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, fmt.Errorf("unsupported order: %s", meta.Order)
	}

	return &meta, nil
}

// Separator returns the chunk key separator, "." unless the metadata says
// otherwise.
func (m *Metadata) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// ParseDType takes a numpy-style string like "<f4", "|b1", "<i8",
// and returns a simplified string name (e.g., "float32", "bool", "int64"),
// the byte size (e.g., 4, 1, 8), and an error if unsupported.
// Reject big-endian (>) types for now.
func ParseDType(s string) (string, int, error) {
	if len(s) < 3 {
		return "", 0, fmt.Errorf("invalid dtype: %s", s)
	}

	endian := s[0]
	if endian == '>' {
		return "", 0, fmt.Errorf("big-endian types are unsupported: %s", s)
	}

	kind := s[1]
	sizeStr := s[2:]

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid size in dtype: %s", s)
	}

	switch kind {
	case 'b':
		return "bool", size, nil
	case 'i':
		return fmt.Sprintf("int%d", size*8), size, nil
	case 'u':
		return fmt.Sprintf("uint%d", size*8), size, nil
	case 'f':
		return fmt.Sprintf("float%d", size*8), size, nil
	case 'c':
		return fmt.Sprintf("complex%d", size*8), size, nil
	default:
		return "", 0, fmt.Errorf("unsupported dtype kind: %c in %s", kind, s)
	}
}

// ElementType converts a numpy-style dtype string into a lazy.DType.
func ElementType(s string) (lazy.DType, error) {
	name, size, err := ParseDType(s)
	if err != nil {
		return lazy.DType{}, err
	}
	return lazy.DType{Name: name, ItemSize: size}, nil
}
