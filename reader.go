package zarr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// Reader reads one array of a virtual store. Inline chunks are decoded in
// process, referenced chunks are fetched through the Fetcher.
type Reader struct {
	store   *Store
	path    string
	meta    *Metadata
	dtype   DType
	fetcher Fetcher
}

// NewReader opens the array at path. fetcher may be nil when every chunk of
// the array is inline.
func NewReader(store *Store, path string, fetcher Fetcher) (*Reader, error) {
	meta, err := store.ArrayMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	dt, err := ParseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("invalid dtype: %w", err)
	}
	if meta.Order == "F" && len(meta.Shape) > 1 {
		return nil, fmt.Errorf("unsupported order F for array %s", path)
	}
	return &Reader{
		store:   store,
		path:    path,
		meta:    meta,
		dtype:   dt,
		fetcher: fetcher,
	}, nil
}

func (r *Reader) Metadata() *Metadata { return r.meta }

func (r *Reader) DType() DType { return r.dtype }

// ReadFull reads the entire array into a flat C-order byte slice.
func (r *Reader) ReadFull(ctx context.Context) ([]byte, error) {
	itemSize := r.dtype.Size
	buffer := r.fill(Size(r.meta.Shape))

	if len(r.meta.Shape) == 0 {
		chunk, err := r.ReadChunk(ctx, nil)
		if err != nil {
			return nil, err
		}
		copy(buffer, chunk)
		return buffer, nil
	}

	globalStrides := Strides(r.meta.Shape)
	chunkStrides := Strides(r.meta.Chunks)
	err := IterateGrid(GridShape(r.meta.Shape, r.meta.Chunks), func(coords []int) error {
		return r.processChunk(ctx, coords, buffer, itemSize, globalStrides, chunkStrides)
	})
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// Float64s reads the entire array and converts it to float64 values.
func (r *Reader) Float64s(ctx context.Context) ([]float64, error) {
	raw, err := r.ReadFull(ctx)
	if err != nil {
		return nil, err
	}
	return r.dtype.DecodeFloat64s(raw)
}

// ReadChunk reads a single chunk given its coordinates. A chunk without an
// entry reads as the fill value.
func (r *Reader) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	key := JoinPath(r.path, ChunkKey(coords, r.meta.Separator()))

	entry, ok := r.store.Get(key)
	if !ok {
		return r.fill(Size(r.meta.Chunks)), nil
	}

	var chunkData []byte
	if entry.IsRef() {
		if r.fetcher == nil {
			return nil, fmt.Errorf("chunk %s is a reference to %s and no fetcher is configured", key, entry.URI)
		}
		data, err := r.fetcher.ReadRange(ctx, entry.URI, entry.Offset, entry.Length)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunk %s: %w", key, err)
		}
		chunkData = data
	} else {
		chunkData = entry.Data
	}

	for _, f := range r.meta.Filters {
		if f != nil {
			return nil, fmt.Errorf("unsupported filter %s on chunk %s", f.ID(), key)
		}
	}

	if r.meta.Compressor == nil {
		return chunkData, nil
	}
	switch id := r.meta.Compressor.ID(); id {
	case "zlib":
		zr, err := zlib.NewReader(bytes.NewReader(chunkData))
		if err != nil {
			return nil, fmt.Errorf("failed to init zlib reader for chunk %s: %w", key, err)
		}
		defer zr.Close()
		return readDecompressed(zr, key, id)
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(chunkData))
		if err != nil {
			return nil, fmt.Errorf("failed to init gzip reader for chunk %s: %w", key, err)
		}
		defer gr.Close()
		return readDecompressed(gr, key, id)
	case "zstd":
		out, err := zstdDecoder.DecodeAll(chunkData, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zstd chunk %s: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", id)
	}
}

func readDecompressed(rd io.Reader, key, id string) ([]byte, error) {
	out, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s chunk %s: %w", id, key, err)
	}
	return out, nil
}

// fill returns n items of the fill value. Non-float kinds fill with zeros.
func (r *Reader) fill(n int) []byte {
	buf := make([]byte, n*r.dtype.Size)
	fv := r.meta.FillFloat()
	if r.dtype.Kind != 'f' || fv == 0 {
		return buf
	}
	bo := r.dtype.order()
	for i := 0; i < n; i++ {
		switch r.dtype.Size {
		case 4:
			bo.PutUint32(buf[i*4:], math.Float32bits(float32(fv)))
		case 8:
			bo.PutUint64(buf[i*8:], math.Float64bits(fv))
		}
	}
	return buf
}

func (r *Reader) processChunk(ctx context.Context, chunkCoords []int, globalBuffer []byte, itemSize int, globalStrides, chunkStrides []int) error {
	chunkData, err := r.ReadChunk(ctx, chunkCoords)
	if err != nil {
		return err
	}

	// bounds of this chunk within the array; edge chunks are partial
	chunkStart := make([]int, len(r.meta.Shape))
	chunkShape := make([]int, len(r.meta.Shape))
	for i, coord := range chunkCoords {
		chunkStart[i] = coord * r.meta.Chunks[i]
		end := min(chunkStart[i]+r.meta.Chunks[i], r.meta.Shape[i])
		chunkShape[i] = end - chunkStart[i]
	}

	return IterateGrid(chunkShape, func(rel []int) error {
		chunkFlat, globalFlat := 0, 0
		for i, rc := range rel {
			chunkFlat += rc * chunkStrides[i]
			globalFlat += (chunkStart[i] + rc) * globalStrides[i]
		}
		src := chunkFlat * itemSize
		dst := globalFlat * itemSize
		if src+itemSize <= len(chunkData) && dst+itemSize <= len(globalBuffer) {
			copy(globalBuffer[dst:dst+itemSize], chunkData[src:src+itemSize])
		}
		return nil
	})
}
