package zarr

import (
	"regexp"
	"strconv"
	"strings"
)

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

var chunkKeyRE = regexp.MustCompile(`^(?P<name>.*)/(?P<chunk>\d+(?:\.\d+)*)$`)

// SplitChunkKey splits a store key like "t2m/instant/surface/t2m/0.1.0" into the
// array path and its chunk indices. ok is false for metadata keys.
func SplitChunkKey(key string) (array string, indices []int, ok bool) {
	m := chunkKeyRE.FindStringSubmatch(key)
	if m == nil {
		return "", nil, false
	}
	parts := strings.Split(m[2], ".")
	indices = make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", nil, false
		}
		indices[i] = n
	}
	return m[1], indices, true
}

// JoinPath joins path elements with "/", skipping empty ones, without a leading "/".
func JoinPath(elems ...string) string {
	var sb strings.Builder
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(e)
	}
	return sb.String()
}

// SplitPath returns the directory and base name of a store key.
func SplitPath(key string) (dir, base string) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}
