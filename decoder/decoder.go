// Package decoder is the boundary to the binary format decoders. A decoder
// turns a source file into virtual stores; this module never reads payload
// bytes itself.
package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	zarr "github.com/TuSKan/zarr-refs"
)

// Decoder splits a source file into one virtual store per message.
type Decoder interface {
	Messages(ctx context.Context, uri string) ([]*zarr.Store, error)
}

// DefaultScanSuffix names the pre-scanned message file next to a source.
const DefaultScanSuffix = "scan.jsonl"

// ScannedJSON reads messages produced ahead of time by an external grib
// scanner: one kerchunk document per line at "<uri>.<suffix>".
type ScannedJSON struct {
	Storage *zarr.Storage
	Suffix  string
	// Mapper, when set, rewrites every message before it is returned, e.g. to
	// rename sub-hourly steps.
	Mapper func(*zarr.Store) (*zarr.Store, error)
}

func (d *ScannedJSON) Messages(ctx context.Context, uri string) ([]*zarr.Store, error) {
	suffix := d.Suffix
	if suffix == "" {
		suffix = DefaultScanSuffix
	}
	data, err := d.Storage.ReadAll(ctx, uri+"."+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read scanned messages: %w", err)
	}

	var out []*zarr.Store
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1024*1024), 256*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		msg, err := zarr.ParseStore(sc.Bytes())
		if err != nil {
			return nil, fmt.Errorf("message on line %d: %w", line, err)
		}
		if err := msg.ResolveTemplates(); err != nil {
			return nil, fmt.Errorf("message on line %d: %w", line, err)
		}
		if d.Mapper != nil {
			if msg, err = d.Mapper(msg); err != nil {
				return nil, fmt.Errorf("failed to map message on line %d: %w", line, err)
			}
		}
		out = append(out, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scanned messages: %w", err)
	}
	return out, nil
}

// Nest arranges the flat arrays of one decoded message into the grib tree
// layout "<var>/<stepType>/<typeOfLevel>/", copying every coordinate a data
// variable uses next to it. The groups carry name, stepType, typeOfLevel and
// coordinates attributes.
func Nest(msg *zarr.Store) (*zarr.Store, error) {
	out := zarr.NewStore()
	group := map[string]int{"zarr_format": 2}
	if err := out.SetJSON(zarr.GroupKey, group); err != nil {
		return nil, err
	}
	if e, ok := msg.Get(zarr.AttributesKey); ok {
		out.Set(zarr.AttributesKey, e)
	}

	_, names := msg.Children("")
	attrs := make(map[string]zarr.Attributes, len(names))
	dimNames := make(map[string]bool)
	listed := make(map[string]bool)
	for _, name := range names {
		a, err := msg.Attributes(name)
		if err != nil {
			return nil, err
		}
		attrs[name] = a
		dims, _ := a.DimensionNames()
		for _, d := range dims {
			dimNames[d] = true
		}
		for _, c := range a.Fields("coordinates") {
			listed[c] = true
		}
	}

	for _, name := range names {
		if dimNames[name] || listed[name] {
			continue
		}
		a := attrs[name]
		stepType := firstString(a, "GRIB_stepType", "stepType")
		typeOfLevel := firstString(a, "GRIB_typeOfLevel", "typeOfLevel")
		if stepType == "" || typeOfLevel == "" {
			return nil, fmt.Errorf("variable %s has no GRIB_stepType/GRIB_typeOfLevel attributes", name)
		}
		levelPath := zarr.JoinPath(name, stepType, typeOfLevel)

		coords := usedCoordinates(name, attrs)
		groups := []struct {
			path  string
			attrs zarr.Attributes
		}{
			{name, zarr.NewAttributes("name", firstString(a, "GRIB_name", "long_name", "name"))},
			{zarr.JoinPath(name, stepType), zarr.NewAttributes("stepType", stepType)},
			{levelPath, zarr.NewAttributes("typeOfLevel", typeOfLevel, "coordinates", strings.Join(coords, " "))},
		}
		for _, g := range groups {
			if err := out.SetJSON(zarr.JoinPath(g.path, zarr.GroupKey), group); err != nil {
				return nil, err
			}
			if err := out.SetAttributes(g.path, g.attrs); err != nil {
				return nil, err
			}
		}

		copyArray(msg, out, name, levelPath)
		for _, c := range coords {
			copyArray(msg, out, c, levelPath)
		}
	}
	return out, nil
}

// usedCoordinates lists the coordinates of a data variable: its dimensions
// and its CF coordinates attribute, restricted to arrays of the message.
func usedCoordinates(name string, attrs map[string]zarr.Attributes) []string {
	a := attrs[name]
	seen := make(map[string]bool)
	dims, _ := a.DimensionNames()
	for _, c := range append(dims, a.Fields("coordinates")...) {
		if _, ok := attrs[c]; ok && c != name {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func copyArray(src, dst *zarr.Store, name, under string) {
	prefix := name + "/"
	for _, key := range src.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		e, _ := src.Get(key)
		dst.Set(zarr.JoinPath(under, key), e)
	}
}

func firstString(a zarr.Attributes, keys ...string) string {
	for _, k := range keys {
		if s := a.String(k); s != "" {
			return s
		}
	}
	return ""
}
