package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/persist"
	"github.com/TuSKan/zarr-refs/reinflate"
)

var reinflateConfig string

var reinflateCmd = &cobra.Command{
	Use:   "reinflate",
	Short: "Reinflate a template with accumulated chunk index tables",
	Long: `Reads the template under the job's metadata_path and the chunk index tables
it lists, lays the chunks out along the configured axes and writes the
aggregated store document to the job's output.`,
	Args: cobra.NoArgs,
	RunE: runReinflate,
}

func runReinflate(cmd *cobra.Command, args []string) error {
	job, err := LoadJob(reinflateConfig)
	if err != nil {
		return err
	}
	agg, err := job.Aggregation()
	if err != nil {
		return err
	}

	cache := &persist.Cache{Persister: &persist.Persister{Storage: storage, Logger: logger}, Metrics: counters}

	tables := make([]chunkindex.Table, len(job.ChunkIndex))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	g.Go(func() error {
		_, err := cache.Read(ctx, job.MetadataPath)
		return err
	})
	for i, uri := range job.ChunkIndex {
		i, uri := i, uri
		g.Go(func() error {
			data, err := storage.ReadAll(ctx, uri)
			if err != nil {
				return err
			}
			t, err := chunkindex.ReadJSONL(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("failed to read chunk index %s: %w", uri, err)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	template, err := cache.Read(cmd.Context(), job.MetadataPath)
	if err != nil {
		return err
	}
	var all chunkindex.Table
	for _, t := range tables {
		all = append(all, t...)
	}
	logger.Info("reinflating", zap.Stringer("aggregation", job.Type), zap.Int("records", len(all)), zap.Int("groups", len(all.Groups())))

	out, err := (&reinflate.Engine{Logger: logger, Metrics: counters}).Reinflate(template, all, agg)
	if err != nil {
		return err
	}
	doc, err := out.Encode()
	if err != nil {
		return err
	}
	return writeOutput(cmd.Context(), job.Output, doc)
}

func init() {
	reinflateCmd.Flags().StringVarP(&reinflateConfig, "config", "c", "", "Job file (required)")
	reinflateCmd.MarkFlagRequired("config")
}
