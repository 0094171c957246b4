package zarr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/zarr-refs"
)

const kerchunkDoc = `{
	"version": 1,
	"templates": {"u": "s3://noaa-hrrr-bdp-pds/hrrr.20231118/conus/hrrr.t09z.wrfsfcf00.grib2"},
	"refs": {
		".zgroup": "{\"zarr_format\":2}",
		".zattrs": {"GRIB_centre": "kwbc"},
		"t2m/.zarray": "{\"chunks\":[1,2],\"compressor\":null,\"dtype\":\"<f4\",\"fill_value\":null,\"filters\":null,\"order\":\"C\",\"shape\":[1,2],\"zarr_format\":2}",
		"t2m/0.0": ["{{u}}", 1024, 512],
		"t2m/whole": ["s3://bucket/whole.bin"],
		"latitude/0": "base64:AAAAAAAAJEA="
	}
}`

func TestParseStore(t *testing.T) {
	s, err := zarr.ParseStore([]byte(kerchunkDoc))
	require.NoError(t, err)
	require.Equal(t, 1, s.Version)
	require.Equal(t, 6, s.Len())

	ref, ok := s.Get("t2m/0.0")
	require.True(t, ok)
	require.True(t, ref.IsRef())
	require.Equal(t, "{{u}}", ref.URI)
	require.Equal(t, int64(1024), ref.Offset)
	require.Equal(t, int64(512), ref.Length)

	whole, _ := s.Get("t2m/whole")
	require.Equal(t, int64(-1), whole.Length)

	lat, _ := s.Get("latitude/0")
	require.False(t, lat.IsRef())
	require.Equal(t, zarr.EncodeFloat64s([]float64{10}), lat.Data)

	attrs, err := s.Attributes("")
	require.NoError(t, err)
	require.Equal(t, "kwbc", attrs.String("GRIB_centre"))

	require.NoError(t, s.ResolveTemplates())
	ref, _ = s.Get("t2m/0.0")
	require.Equal(t, "s3://noaa-hrrr-bdp-pds/hrrr.20231118/conus/hrrr.t09z.wrfsfcf00.grib2", ref.URI)
	require.Nil(t, s.Templates)
}

func TestParseStore_BareRefs(t *testing.T) {
	s, err := zarr.ParseStore([]byte(`{".zgroup": "{\"zarr_format\":2}", "a/0": ["f.grib2", 0, 10]}`))
	require.NoError(t, err)
	require.Equal(t, zarr.StoreVersion, s.Version)
	require.Equal(t, []string{".zgroup", "a/0"}, s.Keys())
}

func TestParseStore_Invalid(t *testing.T) {
	for _, doc := range []string{
		`[]`,
		`{"refs": {"a/0": 12}}`,
		`{"refs": {"a/0": ["f", 1]}}`,
		`{"refs": {"a/0": [1, 2, 3]}}`,
		`{"refs": {"a/0": "base64:%%%"}}`,
	} {
		_, err := zarr.ParseStore([]byte(doc))
		require.Error(t, err, doc)
	}
}

func TestStore_EncodeDeterministic(t *testing.T) {
	a, err := zarr.ParseStore([]byte(kerchunkDoc))
	require.NoError(t, err)
	b := a.Clone()

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	require.Equal(t, ea, eb)

	back, err := zarr.ParseStore(ea)
	require.NoError(t, err)
	for _, k := range a.Keys() {
		want, _ := a.Get(k)
		got, ok := back.Get(k)
		require.True(t, ok, k)
		require.True(t, want.Equal(got), k)
	}
}

func TestStore_ResolveTemplates_Unknown(t *testing.T) {
	s := zarr.NewStore()
	s.Templates = map[string]string{"a": "x"}
	s.Set("v/0", zarr.Reference("{{b}}", 0, 1))
	require.Error(t, s.ResolveTemplates())
}

func TestStore_CloneIsDeep(t *testing.T) {
	s := zarr.NewStore()
	s.Set("a/.zattrs", zarr.InlineString(`{"x":1}`))
	c := s.Clone()
	c.Refs["a/.zattrs"].Data[0] = '['
	c.Delete("a/.zattrs")

	e, ok := s.Get("a/.zattrs")
	require.True(t, ok)
	require.Equal(t, `{"x":1}`, string(e.Data))
}

func TestStore_Hierarchy(t *testing.T) {
	s := zarr.NewStore()
	require.NoError(t, s.SetJSON(".zgroup", map[string]int{"zarr_format": 2}))
	require.NoError(t, s.SetJSON("u/.zgroup", map[string]int{"zarr_format": 2}))
	require.NoError(t, s.SetJSON("u/instant/.zgroup", map[string]int{"zarr_format": 2}))
	require.NoError(t, s.SetJSON("t2m/.zgroup", map[string]int{"zarr_format": 2}))
	require.NoError(t, s.SetArrayMetadata("t2m/t2m", &zarr.Metadata{ZarrFormat: 2, Shape: []int{1}, Chunks: []int{1}, DType: "<f4"}))
	require.NoError(t, s.SetArrayMetadata("t2m/time", &zarr.Metadata{ZarrFormat: 2, Shape: []int{}, Chunks: []int{}, DType: "<i8"}))

	groups, arrays := s.Children("t2m")
	require.Empty(t, groups)
	require.Equal(t, []string{"t2m", "time"}, arrays)

	groups, arrays = s.Children("")
	require.Equal(t, []string{"t2m", "u"}, groups)
	require.Empty(t, arrays)

	var visited []string
	require.NoError(t, s.WalkGroups(func(path string) error {
		visited = append(visited, path)
		return nil
	}))
	require.Equal(t, []string{"", "t2m", "u", "u/instant"}, visited)

	require.True(t, s.IsGroup("u/instant"))
	require.True(t, s.IsArray("t2m/time"))
	require.False(t, s.IsArray("t2m"))

	_, err := s.ArrayMetadata("nope")
	require.True(t, errors.Is(err, zarr.ErrNotFound))

	attrs, err := s.Attributes("t2m")
	require.NoError(t, err)
	require.Zero(t, attrs.Len())
}

func TestStore_StripChunks(t *testing.T) {
	s := zarr.NewStore()
	s.Set("t2m/instant/surface/t2m/.zarray", zarr.InlineString("{}"))
	s.Set("t2m/instant/surface/t2m/0.0.0", zarr.Reference("f", 0, 1))
	s.Set("t2m/instant/surface/latitude/0.0", zarr.InlineString("lat"))
	s.Set("t2m/instant/surface/longitude/0.0", zarr.InlineString("lon"))
	s.Set("t2m/instant/surface/time/0", zarr.InlineString("t"))

	deleted := s.StripChunks("latitude", "longitude")
	require.Equal(t, 2, deleted)
	require.Equal(t, []string{
		"t2m/instant/surface/latitude/0.0",
		"t2m/instant/surface/longitude/0.0",
		"t2m/instant/surface/t2m/.zarray",
	}, s.Keys())
}

func TestEntry_Text(t *testing.T) {
	require.Equal(t, "hello", zarr.InlineString("hello").Text())
	bin := zarr.Inline([]byte{0xff, 0x00})
	require.Equal(t, "base64:/wA=", bin.Text())

	back, err := zarr.ParseInlineText(bin.Text())
	require.NoError(t, err)
	require.True(t, bin.Equal(back))
	require.False(t, bin.Equal(zarr.Reference("f", 0, 2)))
}
