package zarr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/zarr-refs"
)

func TestAttributes_OrderPreserved(t *testing.T) {
	var a zarr.Attributes
	require.NoError(t, zarr.JSON.Unmarshal([]byte(`{"z": 1, "a": "x", "_ARRAY_DIMENSIONS": ["step", "latitude"]}`), &a))
	require.Equal(t, []string{"z", "a", "_ARRAY_DIMENSIONS"}, a.Keys())

	dims, ok := a.DimensionNames()
	require.True(t, ok)
	require.Equal(t, []string{"step", "latitude"}, dims)

	out, err := zarr.JSON.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":"x","_ARRAY_DIMENSIONS":["step","latitude"]}`, string(out))
}

func TestAttributes_SetDelete(t *testing.T) {
	a := zarr.NewAttributes("name", "2 metre temperature", "units", "K")
	a.Set("name", "t2m")
	a.Set("coordinates", "latitude longitude step time")
	require.Equal(t, []string{"name", "units", "coordinates"}, a.Keys())
	require.Equal(t, []string{"latitude", "longitude", "step", "time"}, a.Fields("coordinates"))

	a.Delete("units")
	a.Delete("missing")
	require.Equal(t, []string{"name", "coordinates"}, a.Keys())
	_, ok := a.Get("units")
	require.False(t, ok)

	_, ok = a.DimensionNames()
	require.False(t, ok)
}

func TestAttributes_Inherit(t *testing.T) {
	root := zarr.NewAttributes("GRIB_centre", "kwbc", "level", "root")
	group := zarr.NewAttributes("level", "group", "stepType", "instant")
	leaf := zarr.NewAttributes("typeOfLevel", "surface")

	merged := leaf.Inherit(group).Inherit(root)
	require.Equal(t, []string{"typeOfLevel", "level", "stepType", "GRIB_centre"}, merged.Keys())
	require.Equal(t, "group", merged.String("level"))
	require.Equal(t, "kwbc", merged.String("GRIB_centre"))

	// inputs untouched
	require.Equal(t, 1, leaf.Len())
}

func TestAttributes_Null(t *testing.T) {
	var a zarr.Attributes
	require.NoError(t, zarr.JSON.Unmarshal([]byte(`null`), &a))
	require.Zero(t, a.Len())

	out, err := zarr.JSON.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `{}`, string(out))
}
