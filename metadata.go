package zarr

import (
	"fmt"
	"io"
	"math"
)

// Metadata keys of a Zarr V2 hierarchy.
const (
	ArrayKey      = ".zarray"
	AttributesKey = ".zattrs"
	GroupKey      = ".zgroup"
)

const (
	// FillValueNaN is how a not-a-number fill value is spelled in .zarray.
	FillValueNaN = "NaN"
	// FillValueInfinity and FillValueNegativeInfinity spell the infinities.
	FillValueInfinity         = "Infinity"
	FillValueNegativeInfinity = "-Infinity"
)

// CompressorConfig represents a Zarr codec configuration, a compressor or a
// filter. Besides "id" codecs carry arbitrary parameters (e.g. the grib
// filter's "var") that must survive a round trip.
type CompressorConfig map[string]any

// ID returns the codec identifier.
func (c CompressorConfig) ID() string {
	id, _ := c["id"].(string)
	return id
}

// Metadata represents the Zarr V2 .zarray metadata.
type Metadata struct {
	ZarrFormat         int                `json:"zarr_format"`
	Shape              []int              `json:"shape"`
	Chunks             []int              `json:"chunks"`
	DType              string             `json:"dtype"`
	Compressor         CompressorConfig   `json:"compressor"`
	FillValue          any                `json:"fill_value"`
	Order              string             `json:"order"`
	Filters            []CompressorConfig `json:"filters"`
	DimensionSeparator string             `json:"dimension_separator,omitempty"`
}

// LoadMetadata reads and parses a .zarray document.
func LoadMetadata(reader io.Reader) (*Metadata, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata parses a .zarray document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := JSON.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format: %d, expected 2", meta.ZarrFormat)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v differ in rank", meta.Shape, meta.Chunks)
	}
	return &meta, nil
}

// Clone deep copies the metadata.
func (m *Metadata) Clone() *Metadata {
	out := *m
	out.Shape = append([]int(nil), m.Shape...)
	out.Chunks = append([]int(nil), m.Chunks...)
	if m.Compressor != nil {
		out.Compressor = cloneCodec(m.Compressor)
	}
	if m.Filters != nil {
		out.Filters = make([]CompressorConfig, len(m.Filters))
		for i, f := range m.Filters {
			out.Filters[i] = cloneCodec(f)
		}
	}
	return &out
}

func cloneCodec(c CompressorConfig) CompressorConfig {
	out := make(CompressorConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Separator returns the chunk key separator, "." unless set.
func (m *Metadata) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// FillFloat returns the fill value as a float64. A null fill value reads as 0.
func (m *Metadata) FillFloat() float64 {
	switch v := m.FillValue.(type) {
	case nil:
		return 0
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		switch v {
		case FillValueNaN:
			return math.NaN()
		case FillValueInfinity:
			return math.Inf(1)
		case FillValueNegativeInfinity:
			return math.Inf(-1)
		}
	}
	return 0
}
