package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TuSKan/zarr-refs/reinflate"
)

// Job describes one reinflation.
//
//	metadata_path: gs://bucket/metadata/hrrr/subhourly
//	aggregation: horizon
//	axes:
//	  horizons:
//	    - [15m, 30m, 45m, 1h]
//	  valid_times: {start: "2023-11-18T09:15:00Z", end: "2023-11-18T12:00:00Z", freq: 15m}
//	chunk_index: [gs://bucket/index/hrrr.t09z.jsonl, gs://bucket/index/hrrr.t10z.jsonl]
//	output: gs://bucket/stores/hrrr-subhourly.json
type Job struct {
	MetadataPath string         `yaml:"metadata_path"`
	Type         reinflate.Type `yaml:"aggregation"`
	Axes         AxesConfig     `yaml:"axes"`
	ChunkIndex   []string       `yaml:"chunk_index"`
	Output       string         `yaml:"output"`
}

type AxesConfig struct {
	Steps      DurationAxis   `yaml:"steps"`
	Horizons   []DurationAxis `yaml:"horizons"`
	ValidTimes TimeAxis       `yaml:"valid_times"`
	RunTimes   TimeAxis       `yaml:"run_times"`
}

// TimeAxis is a list of times or an inclusive {start, end, freq} range.
type TimeAxis []time.Time

func (a *TimeAxis) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var ts []time.Time
		if err := n.Decode(&ts); err != nil {
			return err
		}
		*a = ts
		return nil
	}
	var r struct {
		Start time.Time     `yaml:"start"`
		End   time.Time     `yaml:"end"`
		Freq  time.Duration `yaml:"freq"`
	}
	if err := n.Decode(&r); err != nil {
		return err
	}
	if r.Freq <= 0 {
		return fmt.Errorf("line %d: freq must be positive", n.Line)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("line %d: end %s is before start %s", n.Line, r.End, r.Start)
	}
	var out TimeAxis
	for t := r.Start; !t.After(r.End); t = t.Add(r.Freq) {
		out = append(out, t.UTC())
	}
	*a = out
	return nil
}

// DurationAxis is a list of durations or an inclusive {start, end, freq} range.
type DurationAxis []time.Duration

func (a *DurationAxis) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var ds []time.Duration
		if err := n.Decode(&ds); err != nil {
			return err
		}
		*a = ds
		return nil
	}
	var r struct {
		Start time.Duration `yaml:"start"`
		End   time.Duration `yaml:"end"`
		Freq  time.Duration `yaml:"freq"`
	}
	if err := n.Decode(&r); err != nil {
		return err
	}
	if r.Freq <= 0 {
		return fmt.Errorf("line %d: freq must be positive", n.Line)
	}
	if r.End < r.Start {
		return fmt.Errorf("line %d: end %s is before start %s", n.Line, r.End, r.Start)
	}
	var out DurationAxis
	for d := r.Start; d <= r.End; d += r.Freq {
		out = append(out, d)
	}
	*a = out
	return nil
}

// LoadJob reads a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return ParseJob(data)
}

func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	if job.MetadataPath == "" {
		return nil, fmt.Errorf("job has no metadata_path")
	}
	if len(job.ChunkIndex) == 0 {
		return nil, fmt.Errorf("job has no chunk_index")
	}
	return &job, nil
}

// Aggregation builds the aggregation from the configured axes.
func (j *Job) Aggregation() (reinflate.Aggregation, error) {
	axes := reinflate.Axes{
		Step:      j.Axes.Steps,
		ValidTime: j.Axes.ValidTimes,
		Time:      j.Axes.RunTimes,
	}
	for _, h := range j.Axes.Horizons {
		axes.Horizons = append(axes.Horizons, h)
	}
	return reinflate.New(j.Type, axes)
}
