package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/internal/fixture"
)

func execute(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), "vzarr %v", args)
}

func TestIndexTemplateReinflate(t *testing.T) {
	dir := t.TempDir()
	runs := []time.Time{fixture.Date(2023, 11, 18, 9), fixture.Date(2023, 11, 18, 10)}

	var docs []string
	for _, run := range runs {
		uri := fmt.Sprintf("s3://noaa-hrrr-bdp-pds/hrrr.20231118/conus/hrrr.t%02dz.wrfsfcf.grib2", run.Hour())
		tree := fixture.Tree{
			URI: uri, Lat: 2, Lon: 2, Centre: "kwbc",
			Vars: []fixture.Var{{
				Name: "t2m", StepType: "instant", TypeOfLevel: "heightAboveGround", LongName: "2 metre temperature",
				Times: []time.Time{run}, Steps: []time.Duration{0, time.Hour}, Levels: []float64{2},
			}},
		}
		doc, err := tree.Store().Encode()
		require.NoError(t, err)
		path := filepath.Join(dir, fmt.Sprintf("run%02d.json", run.Hour()))
		require.NoError(t, os.WriteFile(path, doc, 0644))
		docs = append(docs, path)
	}

	index := filepath.Join(dir, "index.jsonl")
	execute(t, "index", "--grib", "-o", index, docs[0], docs[1])

	meta := filepath.Join(dir, "metadata")
	execute(t, "template", docs[0], "--metadata-path", meta)
	_, err := os.Stat(filepath.Join(meta, "zarr_tree_store.json.gz"))
	require.NoError(t, err)

	out := filepath.Join(dir, "out.json")
	job := fmt.Sprintf(`
metadata_path: %s
aggregation: run_time
axes:
  steps: [0s, 1h]
  run_times: {start: "2023-11-18T09:00:00Z", end: "2023-11-18T10:00:00Z", freq: 1h}
chunk_index: [%s]
output: %s
`, meta, index, out)
	jobPath := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(job), 0644))
	execute(t, "reinflate", "--config", jobPath)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	s, err := zarr.ParseStore(data)
	require.NoError(t, err)

	m, err := s.ArrayMetadata("t2m/instant/heightAboveGround/t2m")
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2, 2}, m.Shape)

	e, ok := s.Get("t2m/instant/heightAboveGround/t2m/1.1.0.0")
	require.True(t, ok)
	require.Equal(t, zarr.Reference("s3://noaa-hrrr-bdp-pds/hrrr.20231118/conus/hrrr.t10z.wrfsfcf.grib2", fixture.ChunkLength, fixture.ChunkLength), e)
}
