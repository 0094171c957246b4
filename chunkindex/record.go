package chunkindex

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	zarr "github.com/TuSKan/zarr-refs"
)

// Record describes one leaf chunk of a virtual store and the coordinate
// values that locate it.
type Record struct {
	Varname     string
	StepType    string
	TypeOfLevel string
	// Name is the long name of the variable.
	Name  string
	Attrs zarr.Attributes

	Time      time.Time
	Step      time.Duration
	ValidTime time.Time
	// Level is NaN when the variable has no level coordinate.
	Level float64
	// Other holds coordinates that are not part of the grib naming.
	Other map[string]float64

	Entry zarr.Entry
}

// Group identifies the grib tree group a record belongs to.
type Group struct {
	Varname     string
	StepType    string
	TypeOfLevel string
}

// Path returns "varname/stepType/typeOfLevel".
func (g Group) Path() string {
	return zarr.JoinPath(g.Varname, g.StepType, g.TypeOfLevel)
}

func (g Group) String() string { return g.Path() }

func (g Group) less(o Group) bool {
	if g.Varname != o.Varname {
		return g.Varname < o.Varname
	}
	if g.StepType != o.StepType {
		return g.StepType < o.StepType
	}
	return g.TypeOfLevel < o.TypeOfLevel
}

func (r *Record) Group() Group {
	return Group{Varname: r.Varname, StepType: r.StepType, TypeOfLevel: r.TypeOfLevel}
}

// LevelKey maps the level to a comparable value; every NaN maps to the same key.
func LevelKey(level float64) uint64 {
	if math.IsNaN(level) {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(level)
}

// Table is an ordered collection of records.
type Table []Record

// Groups returns the distinct groups of the table, sorted.
func (t Table) Groups() []Group {
	seen := make(map[Group]struct{})
	var out []Group
	for i := range t {
		g := t[i].Group()
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Group returns the records of g, in table order.
func (t Table) Group(g Group) Table {
	var out Table
	for i := range t {
		if t[i].Group() == g {
			out = append(out, t[i])
		}
	}
	return out
}

// Levels returns the distinct levels of the table sorted ascending. A NaN
// level, if present, is reported once, last.
func (t Table) Levels() []float64 {
	seen := make(map[uint64]struct{})
	var out []float64
	hasNaN := false
	for i := range t {
		l := t[i].Level
		if math.IsNaN(l) {
			hasNaN = true
			continue
		}
		if _, ok := seen[LevelKey(l)]; ok {
			continue
		}
		seen[LevelKey(l)] = struct{}{}
		out = append(out, l)
	}
	sort.Float64s(out)
	if hasNaN {
		out = append(out, math.NaN())
	}
	return out
}

type recordJSON struct {
	Varname     string             `json:"varname"`
	StepType    string             `json:"stepType,omitempty"`
	TypeOfLevel string             `json:"typeOfLevel,omitempty"`
	Name        string             `json:"name,omitempty"`
	Attrs       zarr.Attributes    `json:"attrs"`
	Time        *time.Time         `json:"time,omitempty"`
	Step        float64            `json:"step"`
	ValidTime   *time.Time         `json:"valid_time,omitempty"`
	Level       *float64           `json:"level"`
	Other       map[string]float64 `json:"other,omitempty"`
	Ref         zarr.Entry         `json:"ref"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Varname:     r.Varname,
		StepType:    r.StepType,
		TypeOfLevel: r.TypeOfLevel,
		Name:        r.Name,
		Attrs:       r.Attrs,
		Step:        zarr.EncodeStep(r.Step),
		Other:       r.Other,
		Ref:         r.Entry,
	}
	if !r.Time.IsZero() {
		out.Time = &r.Time
	}
	if !r.ValidTime.IsZero() {
		out.ValidTime = &r.ValidTime
	}
	if !math.IsNaN(r.Level) {
		out.Level = &r.Level
	}
	return zarr.JSON.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := zarr.JSON.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Record{
		Varname:     in.Varname,
		StepType:    in.StepType,
		TypeOfLevel: in.TypeOfLevel,
		Name:        in.Name,
		Attrs:       in.Attrs,
		Step:        time.Duration(math.Round(in.Step * float64(time.Hour))).Round(time.Second),
		Level:       math.NaN(),
		Other:       in.Other,
		Entry:       in.Ref,
	}
	if in.Time != nil {
		r.Time = in.Time.UTC()
	}
	if in.ValidTime != nil {
		r.ValidTime = in.ValidTime.UTC()
	}
	if in.Level != nil {
		r.Level = *in.Level
	}
	return nil
}

// WriteJSONL writes one record per line.
func (t Table) WriteJSONL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i := range t {
		line, err := zarr.JSON.Marshal(t[i])
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadJSONL reads a table written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) (Table, error) {
	var out Table
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := zarr.JSON.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record on line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}
