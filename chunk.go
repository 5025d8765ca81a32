package zarr

import (
	"strconv"
	"strings"
)

// ChunkKey generates the key for a chunk given its indices and a separator.
// For Zarr V2, the separator is typically ".".
// Example: indices=[1, 4], separator="." -> "1.4"
// For 0D arrays (empty indices), it returns "0" per the Zarr spec.
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}

	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}

	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// chunkBounds returns the origin and the in-bounds extent of the chunk at
// coords. The extent is smaller than the nominal chunk size at the upper
// boundary of the array.
func chunkBounds(shape, chunks, coords []int) (start, extent []int) {
	start = make([]int, len(shape))
	extent = make([]int, len(shape))
	for i, c := range coords {
		start[i] = c * chunks[i]
		extent[i] = min(chunks[i], shape[i]-start[i])
	}
	return start, extent
}
