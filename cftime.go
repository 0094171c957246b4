package zarr

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Units written for the coordinates this module produces.
const (
	TimeUnits = "seconds since 1970-01-01T00:00:00"
	StepUnits = "hours"
)

var unitDurations = map[string]time.Duration{
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"D": 24 * time.Hour, "d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"W": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

var referenceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// ParseUnit returns the length of a duration unit such as "hours" or the
// numpy "h".
func ParseUnit(unit string) (time.Duration, error) {
	d, ok := unitDurations[strings.TrimSpace(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", unit)
	}
	return d, nil
}

// ParseTimeUnits parses CF units of the form "<unit> since <reference>".
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, ok := strings.Cut(units, " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("not a CF time unit: %q", units)
	}
	d, err := ParseUnit(unit)
	if err != nil {
		return 0, time.Time{}, err
	}
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, " UTC")
	for _, layout := range referenceLayouts {
		t, err := time.Parse(layout, ref)
		if err == nil {
			return d, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("invalid reference time %q", ref)
}

// IsTimeUnits reports whether units look like CF "<unit> since <ref>".
func IsTimeUnits(units string) bool {
	return strings.Contains(units, " since ")
}

// DecodeTime converts a value in CF time units into a UTC time rounded to the second.
func DecodeTime(v float64, units string) (time.Time, error) {
	unit, ref, err := ParseTimeUnits(units)
	if err != nil {
		return time.Time{}, err
	}
	return ref.Add(scale(v, unit)).Round(time.Second), nil
}

// DecodeDuration converts a value in duration units into a duration rounded to the second.
func DecodeDuration(v float64, units string) (time.Duration, error) {
	unit, err := ParseUnit(units)
	if err != nil {
		return 0, err
	}
	return scale(v, unit).Round(time.Second), nil
}

func scale(v float64, unit time.Duration) time.Duration {
	return time.Duration(math.Round(v * float64(unit)))
}

// EncodeTime returns t as seconds since the Unix epoch, matching TimeUnits.
func EncodeTime(t time.Time) int64 { return t.Unix() }

// EncodeStep returns d in hours, matching StepUnits.
func EncodeStep(d time.Duration) float64 { return d.Hours() }
