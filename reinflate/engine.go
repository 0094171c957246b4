package reinflate

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/metrics"
)

// Engine places chunk references from a table into a template reshaped to
// the aggregation axes.
type Engine struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Reinflate returns a new store; template and table are not modified. Groups
// of the template without records are dropped, positions without a record are
// left out.
func (e *Engine) Reinflate(template *zarr.Store, table chunkindex.Table, agg Aggregation) (*zarr.Store, error) {
	g, err := derive(agg)
	if err != nil {
		return nil, err
	}

	out := template.Clone()
	groups := table.Groups()
	dropUnused(out, groups)

	for _, group := range groups {
		if err := e.reinflateGroup(out, g, group, table.Group(group)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// dropUnused deletes every key whose first three path components are not a
// prefix of a group. Root metadata is kept.
func dropUnused(s *zarr.Store, groups []chunkindex.Group) {
	prefixes := map[string]bool{"": true}
	for _, g := range groups {
		prefixes[g.Varname] = true
		prefixes[zarr.JoinPath(g.Varname, g.StepType)] = true
		prefixes[g.Path()] = true
	}
	for _, key := range s.Keys() {
		dir, _ := zarr.SplitPath(key)
		parts := strings.Split(dir, "/")
		if len(parts) > 3 {
			parts = parts[:3]
		}
		if !prefixes[zarr.JoinPath(parts...)] {
			s.Delete(key)
		}
	}
}

type lookupKey struct {
	time, step int64
	level      uint64
}

func (e *Engine) reinflateGroup(s *zarr.Store, g *grid, group chunkindex.Group, records chunkindex.Table) error {
	log := e.logger().With(zap.String("group", group.Path()))
	base := group.Path()

	levels := records.Levels()
	dims := append([]string{}, g.dims...)
	sizes := make([]int, 0, len(dims)+1)
	for _, d := range dims {
		sizes = append(sizes, g.sizes[d])
	}
	multiLevel := len(levels) > 1
	if multiLevel {
		dims = append(dims, group.TypeOfLevel)
		sizes = append(sizes, len(levels))
	}

	if err := e.storeTimeCoord(s, zarr.JoinPath(base, DimTime), g.time, false); err != nil {
		return err
	}
	if err := e.storeTimeCoord(s, zarr.JoinPath(base, DimValidTime), g.valid, false); err != nil {
		return err
	}
	if err := e.storeTimeCoord(s, zarr.JoinPath(base, DimStep), g.step, true); err != nil {
		return err
	}
	var levelDims []string
	var levelShape []int
	if multiLevel {
		levelDims, levelShape = []string{group.TypeOfLevel}, []int{len(levels)}
	}
	levelPath := zarr.JoinPath(base, group.TypeOfLevel)
	if err := e.storeCoord(s, levelPath, levelDims, levelShape, "<f8", "", zarr.EncodeFloat64s(levels), hasNaN(levels)); err != nil {
		return err
	}

	lookup := make(map[lookupKey]zarr.Entry, len(records))
	duplicates := 0
	for i := range records {
		r := &records[i]
		k := lookupKey{time: r.Time.Unix(), step: seconds(r.Step), level: chunkindex.LevelKey(r.Level)}
		if _, ok := lookup[k]; ok {
			duplicates++
			continue
		}
		lookup[k] = r.Entry
	}
	if duplicates > 0 {
		log.Warn("duplicate chunk index records, keeping the first", zap.Int("count", duplicates))
	}

	dataPath := zarr.JoinPath(base, group.Varname)
	meta, err := s.ArrayMetadata(dataPath)
	if err != nil {
		return fmt.Errorf("failed to reinflate %s: %w", dataPath, err)
	}
	attrs, err := s.Attributes(dataPath)
	if err != nil {
		return fmt.Errorf("failed to reinflate %s: %w", dataPath, err)
	}
	tdims, _ := attrs.DimensionNames()
	if len(tdims) < 2 || len(meta.Shape) < 2 {
		return fmt.Errorf("failed to reinflate %s: expected two trailing spatial dimensions, got %v", dataPath, tdims)
	}
	spatialDims := tdims[len(tdims)-2:]
	spatialShape := meta.Shape[len(meta.Shape)-2:]

	stored := make([]string, 0, len(dims)+2)
	for _, d := range dims {
		stored = append(stored, DimensionName(d))
	}
	stored = append(stored, spatialDims...)

	newMeta := meta.Clone()
	newMeta.Shape = append(append([]int{}, sizes...), spatialShape...)
	newMeta.Chunks = make([]int, 0, len(newMeta.Shape))
	for range sizes {
		newMeta.Chunks = append(newMeta.Chunks, 1)
	}
	newMeta.Chunks = append(newMeta.Chunks, spatialShape...)
	if newMeta.FillValue == nil {
		newMeta.FillValue = zarr.FillValueNaN
	}
	attrs.Set(zarr.DimensionsKey, stored)

	dropChunks(s, dataPath)
	if err := s.SetArrayMetadata(dataPath, newMeta); err != nil {
		return err
	}
	if err := s.SetAttributes(dataPath, attrs); err != nil {
		return err
	}

	sep := newMeta.Separator()
	pos := make(map[string]int, len(dims))
	placed, missing := 0, 0
	err = zarr.IterateGrid(sizes, func(idx []int) error {
		for i, d := range dims {
			pos[d] = idx[i]
		}
		k := lookupKey{time: g.time.at(pos), step: g.step.at(pos)}
		if multiLevel {
			k.level = chunkindex.LevelKey(levels[idx[len(idx)-1]])
		} else {
			k.level = chunkindex.LevelKey(levels[0])
		}
		entry, ok := lookup[k]
		if !ok {
			missing++
			e.Metrics.Missing("reinflate")
			log.Debug("no chunk for position", zap.Ints("index", idx), zap.Int64("time", k.time), zap.Int64("step", k.step))
			return nil
		}
		key := zarr.ChunkKey(append(append([]int{}, idx...), 0, 0), sep)
		s.Set(zarr.JoinPath(dataPath, key), entry)
		placed++
		e.Metrics.Placed()
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("reinflated group", zap.Int("placed", placed), zap.Int("missing", missing), zap.Int("levels", len(levels)))
	return nil
}

// storeTimeCoord writes a time axis as int64 unix seconds, or a step axis as
// float64 hours.
func (e *Engine) storeTimeCoord(s *zarr.Store, path string, a axis, step bool) error {
	dims := make([]string, len(a.dims))
	copy(dims, a.dims)
	if step {
		hours := make([]float64, len(a.values))
		for i, v := range a.values {
			hours[i] = float64(v) / 3600
		}
		return e.storeCoord(s, path, dims, a.shape, "<f8", zarr.StepUnits, zarr.EncodeFloat64s(hours), false)
	}
	return e.storeCoord(s, path, dims, a.shape, "<i8", zarr.TimeUnits, zarr.EncodeInt64s(a.values), false)
}

// storeCoord replaces the array at path with a single inline chunk holding
// data. Coordinates with NaN values are skipped when the template has no
// such array.
func (e *Engine) storeCoord(s *zarr.Store, path string, dims []string, shape []int, dtype, units string, data []byte, nan bool) error {
	log := e.logger()
	meta, err := s.ArrayMetadata(path)
	if err != nil {
		if nan {
			log.Debug("skipping NaN coordinate with no array", zap.String("path", path))
			return nil
		}
		meta = &zarr.Metadata{ZarrFormat: 2, Order: "C"}
	} else if nan {
		log.Info("storing coordinate with NaN value", zap.String("path", path))
	}
	attrs, err := s.Attributes(path)
	if err != nil {
		return fmt.Errorf("failed to read attributes of %s: %w", path, err)
	}

	if shape == nil {
		shape = []int{}
	}
	meta.Shape = append([]int{}, shape...)
	meta.Chunks = append([]int{}, shape...)
	meta.DType = dtype
	meta.Compressor = nil
	meta.Filters = nil
	if meta.FillValue == nil && dtype == "<f8" {
		meta.FillValue = zarr.FillValueNaN
	}

	stored := make([]string, len(dims))
	for i, d := range dims {
		stored[i] = DimensionName(d)
	}
	attrs.Set(zarr.DimensionsKey, stored)
	if units != "" {
		attrs.Set("units", units)
	}

	dropChunks(s, path)
	if err := s.SetArrayMetadata(path, meta); err != nil {
		return err
	}
	if err := s.SetAttributes(path, attrs); err != nil {
		return err
	}
	s.Set(zarr.JoinPath(path, zarr.ChunkKey(make([]int, len(shape)), meta.Separator())), zarr.Inline(data))
	return nil
}

// dropChunks deletes the chunk entries of the array at path.
func dropChunks(s *zarr.Store, path string) {
	prefix := path + "/"
	for key := range s.Refs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name, _, ok := zarr.SplitChunkKey(key)
		if ok && name == path {
			s.Delete(key)
		}
	}
}

func hasNaN(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
