package chunkindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/metrics"
)

// UnsupportedChunkingError is returned for a data variable with a dimension
// chunked neither by one nor by its full size.
type UnsupportedChunkingError struct {
	Path  string
	Dim   string
	Chunk int
	Size  int
}

func (e *UnsupportedChunkingError) Error() string {
	return fmt.Sprintf("cannot index %s: dimension %s has chunk size %d of %d", e.Path, e.Dim, e.Chunk, e.Size)
}

// Coordinate names kept as is under grib naming; any other coordinate is the level.
const (
	CoordTime      = "time"
	CoordValidTime = "valid_time"
	CoordStep      = "step"
	CoordLevel     = "level"
	CoordLatitude  = "latitude"
	CoordLongitude = "longitude"
)

// GribCoord folds a coordinate name the way grib trees are indexed.
func GribCoord(name string) string {
	switch name {
	case CoordTime, CoordValidTime, CoordStep, CoordLatitude, CoordLongitude:
		return name
	}
	return CoordLevel
}

// Extractor walks a virtual store and produces one record per leaf chunk.
type Extractor struct {
	// Grib folds every non time/step/spatial coordinate into the level.
	Grib bool
	// Fetcher reads coordinate chunks that are references. Inline
	// coordinates need none.
	Fetcher zarr.Fetcher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (e *Extractor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ExtractFile reads the store document at uri and extracts it.
func (e *Extractor) ExtractFile(ctx context.Context, storage *zarr.Storage, uri string) (Table, error) {
	data, err := storage.ReadAll(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	store, err := zarr.ParseStore(data)
	if err != nil {
		return nil, err
	}
	if err := store.ResolveTemplates(); err != nil {
		return nil, err
	}
	ex := *e
	if ex.Fetcher == nil {
		ex.Fetcher = storage
	}
	return ex.Extract(ctx, store)
}

// Extract visits the root and every group in pre-order and indexes the data
// variables of each node.
func (e *Extractor) Extract(ctx context.Context, store *zarr.Store) (Table, error) {
	var out Table
	err := store.WalkGroups(func(path string) error {
		recs, err := e.extractNode(ctx, store, path)
		if err != nil {
			return err
		}
		out = append(out, recs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type array struct {
	name  string
	path  string
	meta  *zarr.Metadata
	attrs zarr.Attributes
	dims  []string
}

// coordinate is a fully read coordinate array.
type coordinate struct {
	array
	values []float64
	dtype  zarr.DType
}

func inheritedAttrs(store *zarr.Store, path string) (zarr.Attributes, error) {
	attrs, err := store.Attributes(path)
	if err != nil {
		return zarr.Attributes{}, err
	}
	for p := path; p != ""; {
		p, _ = zarr.SplitPath(p)
		parent, err := store.Attributes(p)
		if err != nil {
			return zarr.Attributes{}, err
		}
		attrs = attrs.Inherit(parent)
	}
	return attrs, nil
}

func (e *Extractor) extractNode(ctx context.Context, store *zarr.Store, path string) (Table, error) {
	_, names := store.Children(path)
	if len(names) == 0 {
		return nil, nil
	}

	nodeAttrs, err := inheritedAttrs(store, path)
	if err != nil {
		return nil, err
	}

	arrays := make([]array, 0, len(names))
	usedDims := make(map[string]bool)
	listed := make(map[string]bool)
	for _, f := range nodeAttrs.Fields("coordinates") {
		listed[f] = true
	}
	for _, name := range names {
		p := zarr.JoinPath(path, name)
		meta, err := store.ArrayMetadata(p)
		if err != nil {
			return nil, err
		}
		attrs, err := store.Attributes(p)
		if err != nil {
			return nil, err
		}
		dims, ok := attrs.DimensionNames()
		if !ok {
			if len(meta.Shape) > 0 {
				return nil, fmt.Errorf("array %s has no %s attribute", p, zarr.DimensionsKey)
			}
			dims = []string{}
		}
		if len(dims) != len(meta.Shape) {
			return nil, fmt.Errorf("array %s has %d dimension names for shape %v", p, len(dims), meta.Shape)
		}
		for _, d := range dims {
			usedDims[d] = true
		}
		for _, f := range attrs.Fields("coordinates") {
			listed[f] = true
		}
		arrays = append(arrays, array{name: name, path: p, meta: meta, attrs: attrs, dims: dims})
	}

	coords := make(map[string]*coordinate)
	var dataVars []array
	for _, a := range arrays {
		if usedDims[a.name] || listed[a.name] {
			c := &coordinate{array: a}
			coords[a.name] = c
			continue
		}
		dataVars = append(dataVars, a)
	}

	var out Table
	for _, v := range dataVars {
		recs, err := e.extractVar(ctx, store, v, nodeAttrs, coords)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (e *Extractor) extractVar(ctx context.Context, store *zarr.Store, v array, attrs zarr.Attributes, coords map[string]*coordinate) (Table, error) {
	indexable := make(map[string]int)
	var indexDims []string
	var indexSizes []int
	for i, d := range v.dims {
		size, chunk := v.meta.Shape[i], v.meta.Chunks[i]
		switch {
		case chunk == 1:
			indexable[d] = len(indexDims)
			indexDims = append(indexDims, d)
			indexSizes = append(indexSizes, size)
		case chunk == size:
		default:
			return nil, &UnsupportedChunkingError{Path: v.path, Dim: d, Chunk: chunk, Size: size}
		}
	}

	// coordinates whose dimensions are all indexable resolve to one value per chunk
	var resolved []*coordinate
	for _, name := range sortedKeys(coords) {
		c := coords[name]
		ok := true
		for _, d := range c.dims {
			if _, in := indexable[d]; !in {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if c.values == nil {
			if err := e.readCoordinate(ctx, store, c); err != nil {
				return nil, err
			}
		}
		resolved = append(resolved, c)
	}

	log := e.logger()
	base := Record{
		Varname:     v.name,
		StepType:    stringAttr(attrs, "stepType", "GRIB_stepType"),
		TypeOfLevel: stringAttr(attrs, "typeOfLevel", "GRIB_typeOfLevel"),
		Name:        stringAttr(attrs, "name", "GRIB_name", "long_name"),
		Attrs:       attrs,
	}

	var out Table
	chunkIdx := make([]int, len(v.dims))
	err := zarr.IterateGrid(indexSizes, func(idx []int) error {
		rec := base
		rec.Level = math.NaN()
		for _, c := range resolved {
			flat := 0
			strides := zarr.Strides(c.meta.Shape)
			for i, d := range c.dims {
				flat += idx[indexable[d]] * strides[i]
			}
			if err := e.assign(&rec, c, c.values[flat]); err != nil {
				return err
			}
		}

		for i, d := range v.dims {
			if pos, ok := indexable[d]; ok {
				chunkIdx[i] = idx[pos]
			} else {
				chunkIdx[i] = 0
			}
		}
		key := zarr.JoinPath(v.path, zarr.ChunkKey(chunkIdx, v.meta.Separator()))
		entry, ok := store.Get(key)
		if !ok {
			log.Warn("chunk not found", zap.String("key", key))
			e.Metrics.Missing("extract")
			return nil
		}
		rec.Entry = entry
		out = append(out, rec)
		e.Metrics.Indexed()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) readCoordinate(ctx context.Context, store *zarr.Store, c *coordinate) error {
	r, err := zarr.NewReader(store, c.path, e.Fetcher)
	if err != nil {
		return fmt.Errorf("failed to open coordinate %s: %w", c.path, err)
	}
	vals, err := r.Float64s(ctx)
	if err != nil {
		return fmt.Errorf("failed to read coordinate %s: %w", c.path, err)
	}
	c.values = vals
	c.dtype = r.DType()
	return nil
}

func (e *Extractor) assign(rec *Record, c *coordinate, v float64) error {
	name := c.name
	if e.Grib {
		name = GribCoord(name)
	}
	switch name {
	case CoordTime, CoordValidTime:
		if math.IsNaN(v) {
			return nil
		}
		t, err := decodeTime(c, v)
		if err != nil {
			return err
		}
		if name == CoordTime {
			rec.Time = t
		} else {
			rec.ValidTime = t
		}
	case CoordStep:
		if math.IsNaN(v) {
			return nil
		}
		d, err := decodeDuration(c, v)
		if err != nil {
			return err
		}
		rec.Step = d
	case CoordLevel:
		rec.Level = v
	default:
		if rec.Other == nil {
			rec.Other = make(map[string]float64)
		}
		if zarr.IsTimeUnits(c.attrs.String("units")) || c.dtype.Kind == 'M' {
			t, err := decodeTime(c, v)
			if err != nil {
				return err
			}
			v = float64(t.Unix())
		}
		rec.Other[c.name] = v
	}
	return nil
}

func decodeTime(c *coordinate, v float64) (time.Time, error) {
	if units := c.attrs.String("units"); zarr.IsTimeUnits(units) {
		t, err := zarr.DecodeTime(v, units)
		if err != nil {
			return time.Time{}, fmt.Errorf("coordinate %s: %w", c.path, err)
		}
		return t, nil
	}
	if c.dtype.Kind == 'M' {
		unit, err := zarr.ParseUnit(c.dtype.Unit)
		if err != nil {
			return time.Time{}, fmt.Errorf("coordinate %s: %w", c.path, err)
		}
		return time.Unix(0, 0).UTC().Add(time.Duration(v) * unit).Round(time.Second), nil
	}
	return time.Time{}, fmt.Errorf("coordinate %s has no time units", c.path)
}

// decodeDuration reads a step. Steps without units are hours, the grib convention.
func decodeDuration(c *coordinate, v float64) (time.Duration, error) {
	if c.dtype.Kind == 'm' {
		unit, err := zarr.ParseUnit(c.dtype.Unit)
		if err != nil {
			return 0, fmt.Errorf("coordinate %s: %w", c.path, err)
		}
		return (time.Duration(v) * unit).Round(time.Second), nil
	}
	units := c.attrs.String("units")
	if units == "" {
		units = zarr.StepUnits
	}
	d, err := zarr.DecodeDuration(v, units)
	if err != nil {
		return 0, fmt.Errorf("coordinate %s: %w", c.path, err)
	}
	return d, nil
}

func stringAttr(attrs zarr.Attributes, keys ...string) string {
	for _, k := range keys {
		if s := attrs.String(k); s != "" {
			return s
		}
	}
	return ""
}

func sortedKeys(m map[string]*coordinate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
