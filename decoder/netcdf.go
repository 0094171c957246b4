package decoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
)

// NetCDF inlines a local NetCDF file as a single virtual store. Every
// variable becomes an array whose chunks hold the raw little-endian values.
type NetCDF struct {
	// ChunkDims are split into single-index chunks so the extractor can index
	// them; other dimensions are stored whole.
	ChunkDims []string
	Logger    *zap.Logger
}

// Messages returns a single store for the file at path.
func (d *NetCDF) Messages(ctx context.Context, path string) ([]*zarr.Store, error) {
	s, err := d.Open(path)
	if err != nil {
		return nil, err
	}
	return []*zarr.Store{s}, nil
}

// Open reads the file at path.
func (d *NetCDF) Open(path string) (*zarr.Store, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open netcdf %s: %w", path, err)
	}
	defer nc.Close()

	out := zarr.NewStore()
	if err := out.SetJSON(zarr.GroupKey, map[string]int{"zarr_format": 2}); err != nil {
		return nil, err
	}
	if err := out.SetAttributes("", convertAttributes(nc.Attributes())); err != nil {
		return nil, err
	}

	split := make(map[string]bool, len(d.ChunkDims))
	for _, dim := range d.ChunkDims {
		split[dim] = true
	}

	for _, name := range nc.ListVariables() {
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read variable %s: %w", name, err)
		}
		flat, shape, dtype, err := flatten(v.Values)
		if err != nil {
			log.Debug("skipping variable", zap.String("name", name), zap.Error(err))
			continue
		}
		if len(shape) != len(v.Dimensions) {
			return nil, fmt.Errorf("variable %s has %d dimensions for shape %v", name, len(v.Dimensions), shape)
		}
		if err := addVariable(out, name, v, flat, shape, dtype, split); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addVariable(out *zarr.Store, name string, v *api.Variable, flat reflect.Value, shape []int, dtype zarr.DType, split map[string]bool) error {
	chunks := append([]int{}, shape...)
	for i, dim := range v.Dimensions {
		if split[dim] {
			chunks[i] = 1
		}
	}
	attrs := convertAttributes(v.Attributes)
	meta := &zarr.Metadata{
		ZarrFormat: 2,
		Shape:      shape,
		Chunks:     chunks,
		DType:      dtype.String(),
		Order:      "C",
	}
	if fv, ok := attrs.Get("_FillValue"); ok {
		meta.FillValue = fv
		attrs.Delete("_FillValue")
	}
	attrs.Set(zarr.DimensionsKey, append([]string{}, v.Dimensions...))
	if err := out.SetArrayMetadata(name, meta); err != nil {
		return err
	}
	if err := out.SetAttributes(name, attrs); err != nil {
		return err
	}

	strides := zarr.Strides(shape)
	return zarr.IterateGrid(zarr.GridShape(shape, chunks), func(cidx []int) error {
		start := make([]int, len(shape))
		end := make([]int, len(shape))
		for i := range shape {
			start[i] = cidx[i] * chunks[i]
			end[i] = start[i] + chunks[i]
		}
		buf := make([]byte, 0, zarr.Size(chunks)*dtype.Size)
		err := zarr.IterateSubGrid(start, end, func(idx []int) error {
			off := 0
			for i, x := range idx {
				off += x * strides[i]
			}
			buf = appendValue(buf, flat.Index(off))
			return nil
		})
		if err != nil {
			return err
		}
		out.Set(zarr.JoinPath(name, zarr.ChunkKey(cidx, ".")), zarr.Inline(buf))
		return nil
	})
}

// flatten walks nested slices of a numeric kind and returns the values in C
// order, their shape and dtype. A scalar has an empty shape.
func flatten(values any) (reflect.Value, []int, zarr.DType, error) {
	v := reflect.ValueOf(values)
	var shape []int
	t := v.Type()
	for t.Kind() == reflect.Slice {
		shape = append(shape, 0)
		t = t.Elem()
	}
	dt, err := dtypeOf(t.Kind())
	if err != nil {
		return reflect.Value{}, nil, zarr.DType{}, err
	}

	flat := reflect.MakeSlice(reflect.SliceOf(t), 0, 0)
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			flat = reflect.Append(flat, v)
			return nil
		}
		if shape[depth] == 0 && flat.Len() == 0 {
			shape[depth] = v.Len()
		} else if v.Len() != shape[depth] {
			return fmt.Errorf("ragged array at depth %d", depth)
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return reflect.Value{}, nil, zarr.DType{}, err
	}
	if shape == nil {
		shape = []int{}
	}
	return flat, shape, dt, nil
}

func dtypeOf(k reflect.Kind) (zarr.DType, error) {
	switch k {
	case reflect.Int8:
		return zarr.DType{ByteOrder: '|', Kind: 'i', Size: 1}, nil
	case reflect.Uint8:
		return zarr.DType{ByteOrder: '|', Kind: 'u', Size: 1}, nil
	case reflect.Int16:
		return zarr.DType{ByteOrder: '<', Kind: 'i', Size: 2}, nil
	case reflect.Uint16:
		return zarr.DType{ByteOrder: '<', Kind: 'u', Size: 2}, nil
	case reflect.Int32:
		return zarr.DType{ByteOrder: '<', Kind: 'i', Size: 4}, nil
	case reflect.Uint32:
		return zarr.DType{ByteOrder: '<', Kind: 'u', Size: 4}, nil
	case reflect.Int64:
		return zarr.DType{ByteOrder: '<', Kind: 'i', Size: 8}, nil
	case reflect.Uint64:
		return zarr.DType{ByteOrder: '<', Kind: 'u', Size: 8}, nil
	case reflect.Float32:
		return zarr.DType{ByteOrder: '<', Kind: 'f', Size: 4}, nil
	case reflect.Float64:
		return zarr.DType{ByteOrder: '<', Kind: 'f', Size: 8}, nil
	}
	return zarr.DType{}, fmt.Errorf("unsupported value kind %s", k)
}

func appendValue(buf []byte, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Int8:
		return append(buf, byte(v.Int()))
	case reflect.Uint8:
		return append(buf, byte(v.Uint()))
	case reflect.Int16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v.Int()))
	case reflect.Uint16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v.Uint()))
	case reflect.Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v.Int()))
	case reflect.Uint32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v.Uint()))
	case reflect.Int64:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.Int()))
	case reflect.Uint64:
		return binary.LittleEndian.AppendUint64(buf, v.Uint())
	case reflect.Float32:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v.Float())))
	default:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float()))
	}
}

// convertAttributes copies netcdf attributes into JSON safe values. Non-finite
// floats are spelled the way .zarray fill values are.
func convertAttributes(m api.AttributeMap) zarr.Attributes {
	var out zarr.Attributes
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out.Set(k, jsonSafe(v))
	}
	return out
}

func jsonSafe(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch {
		case math.IsNaN(f):
			return zarr.FillValueNaN
		case math.IsInf(f, 1):
			return zarr.FillValueInfinity
		case math.IsInf(f, -1):
			return zarr.FillValueNegativeInfinity
		}
		return f
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsonSafe(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
