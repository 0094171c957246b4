package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/zarr-refs/reinflate"
)

func TestParseJob(t *testing.T) {
	job, err := ParseJob([]byte(`
metadata_path: gs://bucket/metadata/hrrr/subhourly
aggregation: horizon
axes:
  horizons:
    - [15m, 30m, 45m, 1h]
    - {start: 1h15m, end: 2h, freq: 15m}
  valid_times: {start: "2023-11-18T09:15:00Z", end: "2023-11-18T10:00:00Z", freq: 15m}
chunk_index:
  - gs://bucket/index/hrrr.t09z.jsonl
output: gs://bucket/stores/hrrr-subhourly.json
`))
	require.NoError(t, err)
	require.Equal(t, reinflate.TypeHorizon, job.Type)
	require.Len(t, job.Axes.Horizons, 2)
	require.Equal(t, DurationAxis{15 * time.Minute, 30 * time.Minute, 45 * time.Minute, time.Hour}, job.Axes.Horizons[0])
	require.Equal(t, DurationAxis{75 * time.Minute, 90 * time.Minute, 105 * time.Minute, 2 * time.Hour}, job.Axes.Horizons[1])
	require.Len(t, job.Axes.ValidTimes, 4)
	require.Equal(t, time.Date(2023, 11, 18, 10, 0, 0, 0, time.UTC), job.Axes.ValidTimes[3])

	agg, err := job.Aggregation()
	require.NoError(t, err)
	h, ok := agg.(reinflate.Horizon)
	require.True(t, ok)
	require.Len(t, h.Horizons, 2)
}

func TestParseJob_RunTimeList(t *testing.T) {
	job, err := ParseJob([]byte(`
metadata_path: /data/metadata
aggregation: run_time
axes:
  steps: {start: 0s, end: 3h, freq: 1h}
  run_times: ["2023-11-18T09:00:00Z", "2023-11-18T10:00:00Z"]
chunk_index: [/data/index.jsonl]
`))
	require.NoError(t, err)
	require.Equal(t, DurationAxis{0, time.Hour, 2 * time.Hour, 3 * time.Hour}, job.Axes.Steps)
	require.Len(t, job.Axes.RunTimes, 2)
	_, err = job.Aggregation()
	require.NoError(t, err)
}

func TestParseJob_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"no metadata": "aggregation: horizon\nchunk_index: [a]\n",
		"no index":    "metadata_path: /m\naggregation: horizon\n",
		"bad type":    "metadata_path: /m\naggregation: hourly\nchunk_index: [a]\n",
		"zero freq":   "metadata_path: /m\naggregation: run_time\nchunk_index: [a]\naxes:\n  steps: {start: 0s, end: 1h, freq: 0s}\n",
		"reversed":    "metadata_path: /m\naggregation: run_time\nchunk_index: [a]\naxes:\n  run_times: {start: '2023-11-18T10:00:00Z', end: '2023-11-18T09:00:00Z', freq: 1h}\n",
	} {
		if _, err := ParseJob([]byte(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestJob_BestAvailableNeedsOneRun(t *testing.T) {
	job, err := ParseJob([]byte(`
metadata_path: /m
aggregation: best_available
axes:
  valid_times: ["2023-11-18T09:00:00Z"]
  run_times: ["2023-11-18T09:00:00Z", "2023-11-18T10:00:00Z"]
chunk_index: [a]
`))
	require.NoError(t, err)
	_, err = job.Aggregation()
	var axisErr *reinflate.InvalidAxisError
	require.True(t, errors.As(err, &axisErr))
	require.Equal(t, "time", axisErr.Axis)
}
