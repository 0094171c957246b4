// Package fixture builds small synthetic grib-tree stores for tests.
package fixture

import (
	"math"
	"strings"
	"time"

	zarr "github.com/TuSKan/zarr-refs"
)

// ChunkLength is the byte length of every referenced chunk.
const ChunkLength = 1000

// Var describes one variable of a grib tree.
type Var struct {
	Name        string
	StepType    string
	TypeOfLevel string
	LongName    string
	Times       []time.Time
	Steps       []time.Duration
	// Levels may be empty, the variable then has no level coordinate.
	Levels []float64
	// Scalar stores time, step and level as 0-d coordinates, the way a
	// single grib message decodes.
	Scalar bool
	// Missing lists chunk suffixes (e.g. "0.1.0.0.0") left out of the store.
	Missing []string
}

// Tree is a synthetic grib tree for one source URI.
type Tree struct {
	URI    string
	Lat    int
	Lon    int
	Centre string
	Vars   []Var
}

// Store builds the virtual store. Chunk references point at consecutive
// ChunkLength ranges of URI in declaration order.
func (tr Tree) Store() *zarr.Store {
	s := zarr.NewStore()
	group := map[string]int{"zarr_format": 2}
	must(s.SetJSON(zarr.GroupKey, group))
	must(s.SetAttributes("", zarr.NewAttributes("GRIB_centre", tr.Centre, "Conventions", "CF-1.7")))

	var offset int64
	for _, v := range tr.Vars {
		varPath := v.Name
		stepPath := zarr.JoinPath(varPath, v.StepType)
		levelPath := zarr.JoinPath(stepPath, v.TypeOfLevel)
		for _, p := range []string{varPath, stepPath, levelPath} {
			must(s.SetJSON(zarr.JoinPath(p, zarr.GroupKey), group))
		}
		must(s.SetAttributes(varPath, zarr.NewAttributes("name", v.LongName)))
		must(s.SetAttributes(stepPath, zarr.NewAttributes("stepType", v.StepType)))
		must(s.SetAttributes(levelPath, zarr.NewAttributes("typeOfLevel", v.TypeOfLevel)))

		coordNames := []string{"latitude", "longitude", "step", "time", "valid_time"}
		if len(v.Levels) > 0 {
			coordNames = append(coordNames, v.TypeOfLevel)
		}

		var dims []string
		var shape []int
		if !v.Scalar {
			dims = []string{"time", "step"}
			shape = []int{len(v.Times), len(v.Steps)}
			if len(v.Levels) > 0 {
				dims = append(dims, v.TypeOfLevel)
				shape = append(shape, len(v.Levels))
			}
		}
		dense := len(dims)
		dims = append(dims, "latitude", "longitude")
		shape = append(shape, tr.Lat, tr.Lon)
		chunks := append([]int{}, shape...)
		for i := 0; i < dense; i++ {
			chunks[i] = 1
		}

		dataPath := zarr.JoinPath(levelPath, v.Name)
		must(s.SetArrayMetadata(dataPath, &zarr.Metadata{
			ZarrFormat: 2,
			Shape:      shape,
			Chunks:     chunks,
			DType:      "<f8",
			FillValue:  nil,
			Order:      "C",
			Filters:    []zarr.CompressorConfig{{"id": "grib", "var": v.Name}},
		}))
		must(s.SetAttributes(dataPath, zarr.NewAttributes(
			zarr.DimensionsKey, dims,
			"GRIB_paramId", 167,
			"GRIB_shortName", v.Name,
			"coordinates", strings.Join(coordNames, " "),
		)))

		missing := map[string]bool{}
		for _, m := range v.Missing {
			missing[m] = true
		}
		_ = zarr.IterateGrid(zarr.GridShape(shape, chunks), func(idx []int) error {
			key := zarr.ChunkKey(idx, ".")
			if !missing[key] {
				s.Set(zarr.JoinPath(dataPath, key), zarr.Reference(tr.URI, offset, ChunkLength))
			}
			offset += ChunkLength
			return nil
		})

		tr.coordinates(s, levelPath, v)
	}
	return s
}

// Messages splits the tree into flat single-message stores, one per variable,
// the way a grib decoder emits them. Only scalar variables make sense here.
func (tr Tree) Messages() []*zarr.Store {
	tree := tr.Store()
	var out []*zarr.Store
	for _, v := range tr.Vars {
		msg := zarr.NewStore()
		must(msg.SetJSON(zarr.GroupKey, map[string]int{"zarr_format": 2}))
		if e, ok := tree.Get(zarr.AttributesKey); ok {
			msg.Set(zarr.AttributesKey, e)
		}
		prefix := zarr.JoinPath(v.Name, v.StepType, v.TypeOfLevel) + "/"
		for _, key := range tree.Keys() {
			if strings.HasPrefix(key, prefix) {
				e, _ := tree.Get(key)
				msg.Set(strings.TrimPrefix(key, prefix), e)
			}
		}
		attrs, err := msg.Attributes(v.Name)
		must(err)
		attrs.Set("GRIB_stepType", v.StepType)
		attrs.Set("GRIB_typeOfLevel", v.TypeOfLevel)
		attrs.Set("GRIB_name", v.LongName)
		must(msg.SetAttributes(v.Name, attrs))
		out = append(out, msg)
	}
	return out
}

func (tr Tree) coordinates(s *zarr.Store, path string, v Var) {
	lat := make([]float64, tr.Lat)
	for i := range lat {
		lat[i] = 21.1 + float64(i)*0.5
	}
	lon := make([]float64, tr.Lon)
	for i := range lon {
		lon[i] = 237.3 + float64(i)*0.5
	}
	floatCoord(s, zarr.JoinPath(path, "latitude"), []string{"latitude"}, []int{tr.Lat}, lat, "degrees_north")
	floatCoord(s, zarr.JoinPath(path, "longitude"), []string{"longitude"}, []int{tr.Lon}, lon, "degrees_east")

	times := make([]int64, len(v.Times))
	for i, t := range v.Times {
		times[i] = zarr.EncodeTime(t)
	}
	steps := make([]float64, len(v.Steps))
	for i, d := range v.Steps {
		steps[i] = zarr.EncodeStep(d)
	}
	var valid []int64
	for _, t := range v.Times {
		for _, d := range v.Steps {
			valid = append(valid, zarr.EncodeTime(t.Add(d)))
		}
	}

	if v.Scalar {
		intCoord(s, zarr.JoinPath(path, "time"), nil, nil, times[:1], zarr.TimeUnits)
		floatCoord(s, zarr.JoinPath(path, "step"), nil, nil, steps[:1], zarr.StepUnits)
		intCoord(s, zarr.JoinPath(path, "valid_time"), nil, nil, valid[:1], zarr.TimeUnits)
		if len(v.Levels) > 0 {
			floatCoord(s, zarr.JoinPath(path, v.TypeOfLevel), nil, nil, v.Levels[:1], "")
		}
		return
	}
	intCoord(s, zarr.JoinPath(path, "time"), []string{"time"}, []int{len(times)}, times, zarr.TimeUnits)
	floatCoord(s, zarr.JoinPath(path, "step"), []string{"step"}, []int{len(steps)}, steps, zarr.StepUnits)
	intCoord(s, zarr.JoinPath(path, "valid_time"), []string{"time", "step"}, []int{len(times), len(steps)}, valid, zarr.TimeUnits)
	if len(v.Levels) > 0 {
		floatCoord(s, zarr.JoinPath(path, v.TypeOfLevel), []string{v.TypeOfLevel}, []int{len(v.Levels)}, v.Levels, "")
	}
}

func floatCoord(s *zarr.Store, path string, dims []string, shape []int, vals []float64, units string) {
	coord(s, path, dims, shape, "<f8", zarr.EncodeFloat64s(vals), units)
}

func intCoord(s *zarr.Store, path string, dims []string, shape []int, vals []int64, units string) {
	coord(s, path, dims, shape, "<i8", zarr.EncodeInt64s(vals), units)
}

func coord(s *zarr.Store, path string, dims []string, shape []int, dtype string, data []byte, units string) {
	if dims == nil {
		dims = []string{}
		shape = []int{}
	}
	var fill any
	if dtype == "<f8" {
		fill = zarr.FillValueNaN
	}
	must(s.SetArrayMetadata(path, &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      shape,
		Chunks:     shape,
		DType:      dtype,
		FillValue:  fill,
		Order:      "C",
	}))
	attrs := zarr.NewAttributes(zarr.DimensionsKey, dims)
	if units != "" {
		attrs.Set("units", units)
	}
	must(s.SetAttributes(path, attrs))
	s.Set(zarr.JoinPath(path, zarr.ChunkKey(make([]int, len(shape)), ".")), zarr.Inline(data))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// NaN is a convenience for tests comparing absent levels.
var NaN = math.NaN()

// Hours is shorthand for n hours.
func Hours(n float64) time.Duration { return time.Duration(n * float64(time.Hour)) }

// Date returns a UTC time at the given hour.
func Date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}
