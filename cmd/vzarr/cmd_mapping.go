package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/decoder"
	"github.com/TuSKan/zarr-refs/sidecar"
)

var (
	mappingScanSuffix string
	mappingIdxSuffix  string
	mappingValidate   bool
	mappingOut        string
	mappingURI        string
	mappingRunTime    string
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Build and apply sidecar index mappings",
}

var mappingBuildCmd = &cobra.Command{
	Use:   "build [source-uri]",
	Short: "Decode a source file once and map its .idx lines to chunk metadata",
	Long: `Reads the pre-scanned messages at "<source>.<scan-suffix>" and the sidecar
index at "<source>.<idx-suffix>" and writes the joined mapping as JSON lines.`,
	Args: cobra.ExactArgs(1),
	RunE: runMappingBuild,
}

var mappingApplyCmd = &cobra.Command{
	Use:   "apply [source-uri...]",
	Short: "Index other runs of the same family from their .idx files only",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMappingApply,
}

func runMappingBuild(cmd *cobra.Command, args []string) error {
	b := &sidecar.Builder{
		Decoder:  &decoder.ScannedJSON{Storage: storage, Suffix: mappingScanSuffix},
		Storage:  storage,
		Suffix:   mappingIdxSuffix,
		Validate: mappingValidate,
		Logger:   logger,
		Metrics:  counters,
	}
	m, err := b.Build(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := m.WriteJSONL(&buf); err != nil {
		return err
	}
	return writeOutput(cmd.Context(), mappingOut, buf.Bytes())
}

func runMappingApply(cmd *cobra.Command, args []string) error {
	runTime, err := time.Parse(time.RFC3339, mappingRunTime)
	if err != nil {
		return fmt.Errorf("invalid --run-time: %w", err)
	}
	data, err := storage.ReadAll(cmd.Context(), mappingURI)
	if err != nil {
		return err
	}
	m, err := sidecar.ReadMappingJSONL(bytes.NewReader(data))
	if err != nil {
		return err
	}

	mapper := &sidecar.Mapper{Logger: logger, Metrics: counters}
	indexedAt := time.Now().UTC()
	tables := make([]chunkindex.Table, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, uri := range args {
		i, uri := i, uri
		g.Go(func() error {
			idx, err := sidecar.ReadIndex(ctx, storage, uri, mappingIdxSuffix, indexedAt)
			if err != nil {
				return err
			}
			t, err := mapper.Apply(runTime, m, idx)
			if err != nil {
				return fmt.Errorf("failed to map %s: %w", uri, err)
			}
			logger.Debug("mapped", zap.String("uri", uri), zap.Int("records", len(t)))
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all chunkindex.Table
	for _, t := range tables {
		all = append(all, t...)
	}
	var buf bytes.Buffer
	if err := all.WriteJSONL(&buf); err != nil {
		return err
	}
	return writeOutput(cmd.Context(), mappingOut, buf.Bytes())
}

func init() {
	mappingCmd.PersistentFlags().StringVar(&mappingIdxSuffix, "idx-suffix", sidecar.DefaultSuffix, "Suffix of the sidecar index file")
	mappingCmd.PersistentFlags().StringVarP(&mappingOut, "out", "o", "", "Output URI (default stdout)")

	mappingBuildCmd.Flags().StringVar(&mappingScanSuffix, "scan-suffix", decoder.DefaultScanSuffix, "Suffix of the pre-scanned message file")
	mappingBuildCmd.Flags().BoolVar(&mappingValidate, "validate", true, "Check index offsets and lengths against the decoded messages")

	mappingApplyCmd.Flags().StringVar(&mappingURI, "mapping", "", "URI of a mapping written by 'mapping build' (required)")
	mappingApplyCmd.Flags().StringVar(&mappingRunTime, "run-time", "", "Run time of the source files, RFC 3339 (required)")
	mappingApplyCmd.MarkFlagRequired("mapping")
	mappingApplyCmd.MarkFlagRequired("run-time")

	mappingCmd.AddCommand(mappingBuildCmd)
	mappingCmd.AddCommand(mappingApplyCmd)
}
