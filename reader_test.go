package zarr_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/TuSKan/zarr-refs"
)

func float32Bytes(data []float32) []byte {
	var buf bytes.Buffer
	for _, v := range data {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func decodeFloat32s(t *testing.T, data []byte) []float32 {
	t.Helper()
	got := make([]float32, len(data)/4)
	for i := range got {
		got[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return got
}

func TestReader_ReadFull(t *testing.T) {
	store := zarr.NewStore()
	store.Set("grid/.zarray", zarr.InlineString(`{
		"zarr_format": 2,
		"shape": [4, 4],
		"chunks": [2, 2],
		"dtype": "<f4",
		"compressor": null,
		"fill_value": 0.0,
		"order": "C",
		"filters": null
	}`))

	// 0.1 and 1.0 are missing
	store.Set("grid/0.0", zarr.Inline(float32Bytes([]float32{1.0, 2.0, 3.0, 4.0})))
	store.Set("grid/1.1", zarr.Inline(float32Bytes([]float32{5.0, 6.0, 7.0, 8.0})))

	reader, err := zarr.NewReader(store, "grid", nil)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	dataBytes, err := reader.ReadFull(context.Background())
	if err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if len(dataBytes) != 64 {
		t.Fatalf("expected exactly 64 bytes, got %d", len(dataBytes))
	}

	expected := []float32{
		1.0, 2.0, 0.0, 0.0,
		3.0, 4.0, 0.0, 0.0,
		0.0, 0.0, 5.0, 6.0,
		0.0, 0.0, 7.0, 8.0,
	}
	if got := decodeFloat32s(t, dataBytes); !reflect.DeepEqual(got, expected) {
		t.Errorf("ReadFull stitched array does not match expected layout.\nExpected: %v\nGot:      %v", expected, got)
	}
}

func TestReader_FillValueNaN(t *testing.T) {
	store := zarr.NewStore()
	require.NoError(t, store.SetArrayMetadata("x", &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      []int{3},
		Chunks:     []int{1},
		DType:      "<f8",
		FillValue:  zarr.FillValueNaN,
		Order:      "C",
	}))
	store.Set("x/1", zarr.Inline(zarr.EncodeFloat64s([]float64{42})))

	reader, err := zarr.NewReader(store, "x", nil)
	require.NoError(t, err)
	got, err := reader.Float64s(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, math.IsNaN(got[0]))
	require.Equal(t, 42.0, got[1])
	require.True(t, math.IsNaN(got[2]))
}

func TestReader_Scalar(t *testing.T) {
	store := zarr.NewStore()
	require.NoError(t, store.SetArrayMetadata("time", &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      []int{},
		Chunks:     []int{},
		DType:      "<i8",
		Order:      "C",
	}))
	store.Set("time/0", zarr.Inline(zarr.EncodeInt64s([]int64{1700000000})))

	reader, err := zarr.NewReader(store, "time", nil)
	require.NoError(t, err)
	got, err := reader.Float64s(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{1700000000}, got)
}

func TestReader_Compressors(t *testing.T) {
	raw := zarr.EncodeFloat64s([]float64{1.5, 2.5, 3.5})

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstdData := enc.EncodeAll(raw, nil)
	require.NoError(t, enc.Close())

	for id, data := range map[string][]byte{"zlib": zbuf.Bytes(), "zstd": zstdData} {
		t.Run(id, func(t *testing.T) {
			store := zarr.NewStore()
			require.NoError(t, store.SetArrayMetadata("v", &zarr.Metadata{
				ZarrFormat: 2,
				Shape:      []int{3},
				Chunks:     []int{3},
				DType:      "<f8",
				Compressor: zarr.CompressorConfig{"id": id, "level": 1},
				Order:      "C",
			}))
			store.Set("v/0", zarr.Inline(data))

			reader, err := zarr.NewReader(store, "v", nil)
			require.NoError(t, err)
			got, err := reader.Float64s(context.Background())
			require.NoError(t, err)
			require.Equal(t, []float64{1.5, 2.5, 3.5}, got)
		})
	}
}

func TestReader_Reference(t *testing.T) {
	dir := t.TempDir()
	payload := append([]byte("HEADER"), zarr.EncodeFloat64s([]float64{10, 20})...)
	src := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(src, payload, 0644))

	store := zarr.NewStore()
	require.NoError(t, store.SetArrayMetadata("lat", &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      []int{2},
		Chunks:     []int{2},
		DType:      "<f8",
		Order:      "C",
	}))
	store.Set("lat/0", zarr.Reference("file://"+filepath.ToSlash(src), 6, 16))

	storage := zarr.NewStorage()
	defer storage.Close()

	reader, err := zarr.NewReader(store, "lat", storage)
	require.NoError(t, err)
	got, err := reader.Float64s(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{10, 20}, got)

	noFetch, err := zarr.NewReader(store, "lat", nil)
	require.NoError(t, err)
	_, err = noFetch.ReadFull(context.Background())
	require.Error(t, err)
}

func TestReader_UnsupportedFilter(t *testing.T) {
	store := zarr.NewStore()
	require.NoError(t, store.SetArrayMetadata("t2m", &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      []int{1},
		Chunks:     []int{1},
		DType:      "<f4",
		Filters:    []zarr.CompressorConfig{{"id": "grib", "var": "t2m"}},
		Order:      "C",
	}))
	store.Set("t2m/0", zarr.Inline(float32Bytes([]float32{1})))

	reader, err := zarr.NewReader(store, "t2m", nil)
	require.NoError(t, err)
	_, err = reader.ReadChunk(context.Background(), []int{0})
	require.Error(t, err)
}
