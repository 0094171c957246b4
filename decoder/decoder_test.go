package decoder

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/internal/fixture"
)

const sourceURI = "mem://hrrr/conus/hrrr.t09z.wrfsubhf01.grib2"

var run = fixture.Date(2023, 11, 18, 9)

func scalarTree() fixture.Tree {
	return fixture.Tree{
		URI: sourceURI, Lat: 2, Lon: 3, Centre: "kwbc",
		Vars: []fixture.Var{
			{
				Name: "t2m", StepType: "instant", TypeOfLevel: "heightAboveGround", LongName: "2 metre temperature",
				Times: []time.Time{run}, Steps: []time.Duration{fixture.Hours(0.25)}, Levels: []float64{2}, Scalar: true,
			},
			{
				Name: "prate", StepType: "avg", TypeOfLevel: "surface", LongName: "Precipitation rate",
				Times: []time.Time{run}, Steps: []time.Duration{fixture.Hours(0.25)}, Levels: []float64{0}, Scalar: true,
			},
		},
	}
}

func TestNest(t *testing.T) {
	msgs := scalarTree().Messages()
	require.Len(t, msgs, 2)

	tree, err := Nest(msgs[0])
	require.NoError(t, err)

	require.True(t, tree.IsGroup("t2m"))
	require.True(t, tree.IsGroup("t2m/instant"))
	require.True(t, tree.IsGroup("t2m/instant/heightAboveGround"))
	require.True(t, tree.IsArray("t2m/instant/heightAboveGround/t2m"))
	require.True(t, tree.IsArray("t2m/instant/heightAboveGround/latitude"))
	require.True(t, tree.IsArray("t2m/instant/heightAboveGround/heightAboveGround"))

	attrs, err := tree.Attributes("t2m")
	require.NoError(t, err)
	require.Equal(t, "2 metre temperature", attrs.String("name"))
	attrs, err = tree.Attributes("t2m/instant/heightAboveGround")
	require.NoError(t, err)
	require.Equal(t, "heightAboveGround", attrs.String("typeOfLevel"))
	require.Equal(t, []string{"heightAboveGround", "latitude", "longitude", "step", "time", "valid_time"}, attrs.Fields("coordinates"))

	root, err := tree.Attributes("")
	require.NoError(t, err)
	require.Equal(t, "kwbc", root.String("GRIB_centre"))

	table, err := (&chunkindex.Extractor{Grib: true}).Extract(context.Background(), tree)
	require.NoError(t, err)
	require.Len(t, table, 1)
	rec := table[0]
	require.Equal(t, chunkindex.Group{Varname: "t2m", StepType: "instant", TypeOfLevel: "heightAboveGround"}, rec.Group())
	require.Equal(t, "2 metre temperature", rec.Name)
	require.Equal(t, 15*time.Minute, rec.Step)
	require.Equal(t, 2.0, rec.Level)
	require.Equal(t, zarr.Reference(sourceURI, 0, fixture.ChunkLength), rec.Entry)
}

func TestNest_MissingGribAttributes(t *testing.T) {
	msg := scalarTree().Messages()[1]
	attrs, err := msg.Attributes("prate")
	require.NoError(t, err)
	attrs.Delete("GRIB_stepType")
	require.NoError(t, msg.SetAttributes("prate", attrs))

	_, err = Nest(msg)
	require.Error(t, err)
}

func TestNest_EmptyMessage(t *testing.T) {
	msg := zarr.NewStore()
	require.NoError(t, msg.SetJSON(zarr.GroupKey, map[string]int{"zarr_format": 2}))
	tree, err := Nest(msg)
	require.NoError(t, err)
	groups, arrays := tree.Children("")
	require.Empty(t, groups)
	require.Empty(t, arrays)
}

func TestScannedJSON(t *testing.T) {
	ctx := context.Background()
	storage := zarr.NewStorage()
	defer storage.Close()
	storage.Mount("mem://", memblob.OpenBucket(nil))

	msgs := scalarTree().Messages()
	// the second message uses a URI template
	templated := msgs[1].Clone()
	templated.Templates = map[string]string{"u": sourceURI}
	templated.Set("prate/0.0", zarr.Reference("{{u}}", fixture.ChunkLength, fixture.ChunkLength))

	var buf bytes.Buffer
	for _, m := range []*zarr.Store{msgs[0], templated} {
		doc, err := m.Encode()
		require.NoError(t, err)
		buf.Write(doc)
		buf.WriteString("\n\n")
	}
	require.NoError(t, storage.Write(ctx, sourceURI+"."+DefaultScanSuffix, buf.Bytes()))

	mapped := 0
	dec := &ScannedJSON{Storage: storage, Mapper: func(s *zarr.Store) (*zarr.Store, error) {
		mapped++
		return s, nil
	}}
	got, err := dec.Messages(ctx, sourceURI)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 2, mapped)

	e, ok := got[1].Get("prate/0.0")
	require.True(t, ok)
	require.Equal(t, zarr.Reference(sourceURI, fixture.ChunkLength, fixture.ChunkLength), e)
	require.Nil(t, got[1].Templates)

	_, err = dec.Messages(ctx, "mem://hrrr/conus/missing.grib2")
	require.Error(t, err)
}
