// Package reinflate rebuilds dense virtual stores from a deflated template
// and a chunk index table accumulated across many source files.
package reinflate

import (
	"fmt"
	"strings"
	"time"
)

// Type selects how the time axes of a forecast collection are laid out.
type Type int

const (
	// TypeHorizon lays out repeating step cycles against valid times.
	TypeHorizon Type = iota
	// TypeValidTime lays out valid times against steps.
	TypeValidTime
	// TypeRunTime lays out run times against steps.
	TypeRunTime
	// TypeBestAvailable picks the latest run for each valid time as of one
	// reference time.
	TypeBestAvailable
)

var typeNames = []string{"horizon", "valid_time", "run_time", "best_available"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType accepts the lower case names, case insensitive.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown aggregation type %q", s)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Axes are the caller supplied target coordinates. Which ones are needed
// depends on the aggregation type.
type Axes struct {
	Step []time.Duration
	// Horizons are step cycles, e.g. 0/15/30/45 minutes of one forecast hour,
	// repeated along the valid times.
	Horizons  [][]time.Duration
	ValidTime []time.Time
	Time      []time.Time
}

// InvalidAxisError is returned when the axes do not fit the aggregation type.
type InvalidAxisError struct {
	Type   Type
	Axis   string
	Reason string
}

func (e *InvalidAxisError) Error() string {
	return fmt.Sprintf("invalid %s axis for %s aggregation: %s", e.Axis, e.Type, e.Reason)
}

// Aggregation is one of Horizon, ValidTime, RunTime or BestAvailable.
type Aggregation interface {
	Type() Type
}

type Horizon struct {
	Horizons   [][]time.Duration
	ValidTimes []time.Time
}

type ValidTime struct {
	Steps      []time.Duration
	ValidTimes []time.Time
}

type RunTime struct {
	Steps    []time.Duration
	RunTimes []time.Time
}

type BestAvailable struct {
	ValidTimes    []time.Time
	ReferenceTime time.Time
}

func (Horizon) Type() Type       { return TypeHorizon }
func (ValidTime) Type() Type     { return TypeValidTime }
func (RunTime) Type() Type       { return TypeRunTime }
func (BestAvailable) Type() Type { return TypeBestAvailable }

// New checks axes against t and returns the matching aggregation.
func New(t Type, axes Axes) (Aggregation, error) {
	missing := func(axis string) error {
		return &InvalidAxisError{Type: t, Axis: axis, Reason: "axis is empty"}
	}
	switch t {
	case TypeHorizon:
		if len(axes.Horizons) == 0 {
			return nil, missing("step")
		}
		for i, h := range axes.Horizons {
			if len(h) == 0 {
				return nil, &InvalidAxisError{Type: t, Axis: "step", Reason: fmt.Sprintf("horizon %d is empty", i)}
			}
		}
		if len(axes.ValidTime) == 0 {
			return nil, missing("valid_time")
		}
		return Horizon{Horizons: axes.Horizons, ValidTimes: axes.ValidTime}, nil
	case TypeValidTime:
		if len(axes.Step) == 0 {
			return nil, missing("step")
		}
		if len(axes.ValidTime) == 0 {
			return nil, missing("valid_time")
		}
		return ValidTime{Steps: axes.Step, ValidTimes: axes.ValidTime}, nil
	case TypeRunTime:
		if len(axes.Step) == 0 {
			return nil, missing("step")
		}
		if len(axes.Time) == 0 {
			return nil, missing("time")
		}
		return RunTime{Steps: axes.Step, RunTimes: axes.Time}, nil
	case TypeBestAvailable:
		if len(axes.ValidTime) == 0 {
			return nil, missing("valid_time")
		}
		if len(axes.Time) != 1 {
			return nil, &InvalidAxisError{Type: t, Axis: "time", Reason: fmt.Sprintf("need exactly one as-of time, got %d", len(axes.Time))}
		}
		return BestAvailable{ValidTimes: axes.ValidTime, ReferenceTime: axes.Time[0]}, nil
	}
	return nil, fmt.Errorf("unknown aggregation type %d", int(t))
}

// Dimension names of the time axes, and the names written to
// _ARRAY_DIMENSIONS.
const (
	DimTime      = "time"
	DimValidTime = "valid_time"
	DimStep      = "step"
)

var dimNames = map[string]string{
	DimTime:      "run_times",
	DimValidTime: "valid_times",
	DimStep:      "model_horizons",
}

// DimensionName returns the stored name of a dimension.
func DimensionName(dim string) string {
	if n, ok := dimNames[dim]; ok {
		return n
	}
	return dim
}

// axis holds a coordinate in unix seconds over some of the dense dimensions.
type axis struct {
	dims   []string
	shape  []int
	values []int64
}

func (a axis) at(pos map[string]int) int64 {
	flat := 0
	for i, d := range a.dims {
		flat = flat*a.shape[i] + pos[d]
	}
	return a.values[flat]
}

// grid is the dense layout shared by every group of one reinflation.
type grid struct {
	dims  []string
	sizes map[string]int
	time  axis
	valid axis
	step  axis
}

func seconds(d time.Duration) int64 { return int64(d.Round(time.Second) / time.Second) }

func derive(agg Aggregation) (*grid, error) {
	switch a := agg.(type) {
	case Horizon:
		nH, nV := len(a.Horizons), len(a.ValidTimes)
		dims := []string{DimStep, DimValidTime}
		shape := []int{nH, nV}
		g := &grid{
			dims:  dims,
			sizes: map[string]int{DimStep: nH, DimValidTime: nV},
			time:  axis{dims: dims, shape: shape, values: make([]int64, nH*nV)},
			valid: axis{dims: dims, shape: shape, values: make([]int64, nH*nV)},
			step:  axis{dims: dims, shape: shape, values: make([]int64, nH*nV)},
		}
		for h, cycle := range a.Horizons {
			for v, vt := range a.ValidTimes {
				i := h*nV + v
				s := seconds(cycle[v%len(cycle)])
				g.step.values[i] = s
				g.valid.values[i] = vt.Unix()
				g.time.values[i] = vt.Unix() - s
			}
		}
		return g, nil

	case ValidTime:
		nV, nS := len(a.ValidTimes), len(a.Steps)
		g := &grid{
			dims:  []string{DimValidTime, DimStep},
			sizes: map[string]int{DimValidTime: nV, DimStep: nS},
			time:  axis{dims: []string{DimValidTime, DimStep}, shape: []int{nV, nS}, values: make([]int64, nV*nS)},
			valid: axis{dims: []string{DimValidTime}, shape: []int{nV}, values: make([]int64, nV)},
			step:  axis{dims: []string{DimStep}, shape: []int{nS}, values: make([]int64, nS)},
		}
		for s, d := range a.Steps {
			g.step.values[s] = seconds(d)
		}
		for v, vt := range a.ValidTimes {
			g.valid.values[v] = vt.Unix()
			for s := range a.Steps {
				g.time.values[v*nS+s] = vt.Unix() - g.step.values[s]
			}
		}
		return g, nil

	case RunTime:
		nT, nS := len(a.RunTimes), len(a.Steps)
		g := &grid{
			dims:  []string{DimTime, DimStep},
			sizes: map[string]int{DimTime: nT, DimStep: nS},
			time:  axis{dims: []string{DimTime}, shape: []int{nT}, values: make([]int64, nT)},
			valid: axis{dims: []string{DimTime, DimStep}, shape: []int{nT, nS}, values: make([]int64, nT*nS)},
			step:  axis{dims: []string{DimStep}, shape: []int{nS}, values: make([]int64, nS)},
		}
		for s, d := range a.Steps {
			g.step.values[s] = seconds(d)
		}
		for t, rt := range a.RunTimes {
			g.time.values[t] = rt.Unix()
			for s := range a.Steps {
				g.valid.values[t*nS+s] = rt.Unix() + g.step.values[s]
			}
		}
		return g, nil

	case BestAvailable:
		nV := len(a.ValidTimes)
		dims := []string{DimValidTime}
		shape := []int{nV}
		g := &grid{
			dims:  dims,
			sizes: map[string]int{DimValidTime: nV},
			time:  axis{dims: dims, shape: shape, values: make([]int64, nV)},
			valid: axis{dims: dims, shape: shape, values: make([]int64, nV)},
			step:  axis{dims: dims, shape: shape, values: make([]int64, nV)},
		}
		ref := a.ReferenceTime.Unix()
		for v, vt := range a.ValidTimes {
			valid := vt.Unix()
			run := ref
			if valid <= ref {
				run = valid
			}
			g.valid.values[v] = valid
			g.time.values[v] = run
			g.step.values[v] = valid - run
		}
		return g, nil
	}
	return nil, fmt.Errorf("unsupported aggregation %T", agg)
}
