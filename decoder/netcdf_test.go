package decoder

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/require"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/chunkindex"
)

func writeNetCDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "era5.nc")
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)

	global, err := util.NewOrderedMap([]string{"Conventions"}, map[string]any{"Conventions": "CF-1.6"})
	require.NoError(t, err)
	require.NoError(t, cw.AddGlobalAttrs(global))

	timeAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": "hours since 1900-01-01 00:00:00.0"})
	require.NoError(t, err)
	require.NoError(t, cw.AddVar("time", api.Variable{
		Values:     []int32{1086984, 1086985},
		Dimensions: []string{"time"},
		Attributes: timeAttrs,
	}))
	require.NoError(t, cw.AddVar("latitude", api.Variable{
		Values:     []float32{10, 9.75, 9.5},
		Dimensions: []string{"latitude"},
	}))

	t2mAttrs, err := util.NewOrderedMap([]string{"_FillValue", "long_name"},
		map[string]any{"_FillValue": float64(-32767), "long_name": "2 metre temperature"})
	require.NoError(t, err)
	require.NoError(t, cw.AddVar("t2m", api.Variable{
		Values:     [][]float64{{280, 281, 282}, {283, 284, 285}},
		Dimensions: []string{"time", "latitude"},
		Attributes: t2mAttrs,
	}))
	require.NoError(t, cw.Close())
	return path
}

func TestNetCDF_Open(t *testing.T) {
	path := writeNetCDF(t)
	store, err := (&NetCDF{ChunkDims: []string{"time"}}).Open(path)
	require.NoError(t, err)

	root, err := store.Attributes("")
	require.NoError(t, err)
	require.Equal(t, "CF-1.6", root.String("Conventions"))

	meta, err := store.ArrayMetadata("t2m")
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, meta.Shape)
	require.Equal(t, []int{1, 3}, meta.Chunks)
	require.Equal(t, "<f8", meta.DType)
	require.Equal(t, -32767.0, meta.FillFloat())

	attrs, err := store.Attributes("t2m")
	require.NoError(t, err)
	dims, ok := attrs.DimensionNames()
	require.True(t, ok)
	require.Equal(t, []string{"time", "latitude"}, dims)
	_, ok = attrs.Get("_FillValue")
	require.False(t, ok)

	r, err := zarr.NewReader(store, "t2m", nil)
	require.NoError(t, err)
	vals, err := r.Float64s(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{280, 281, 282, 283, 284, 285}, vals)

	e, ok := store.Get("t2m/1.0")
	require.True(t, ok)
	require.False(t, e.IsRef())
	require.Len(t, e.Data, 3*8)

	lat, err := zarr.NewReader(store, "latitude", nil)
	require.NoError(t, err)
	latVals, err := lat.Float64s(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{10, 9.75, 9.5}, latVals)
}

func TestNetCDF_Extract(t *testing.T) {
	path := writeNetCDF(t)
	msgs, err := (&NetCDF{ChunkDims: []string{"time"}}).Messages(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	table, err := (&chunkindex.Extractor{}).Extract(context.Background(), msgs[0])
	require.NoError(t, err)
	require.Len(t, table, 2)
	require.Equal(t, "t2m", table[0].Varname)
	require.Equal(t, 2024, table[0].Time.Year())
	require.Equal(t, table[0].Time.Add(time.Hour), table[1].Time)
	require.True(t, math.IsNaN(table[0].Level))
}
