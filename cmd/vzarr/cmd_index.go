package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/decoder"
	"github.com/TuSKan/zarr-refs/persist"
)

var (
	indexGrib bool
	indexOut  string

	templateMetadataPath string
	templateKeep         []string
	templateConsolidate  bool

	netcdfChunkDims []string
	netcdfOut       string
)

var indexCmd = &cobra.Command{
	Use:   "index [store-uri...]",
	Short: "Extract the chunk index of one or more store documents",
	Long: `Reads kerchunk reference documents and writes one JSON record per chunk,
in argument order. With --grib every vertical coordinate is reported as level.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var templateCmd = &cobra.Command{
	Use:   "template [store-uri]",
	Short: "Strip a store document down to a reusable template",
	Long: `Removes the chunk entries of every data variable, keeping the constant
coordinates, and writes the template under --metadata-path. With --consolidate
the kept coordinate chunks are copied next to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplate,
}

var netcdfCmd = &cobra.Command{
	Use:   "netcdf [file.nc]",
	Short: "Inline a local NetCDF file as a store document",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetCDF,
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ex := &chunkindex.Extractor{Grib: indexGrib, Logger: logger, Metrics: counters}

	tables := make([]chunkindex.Table, len(args))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, uri := range args {
		i, uri := i, uri
		g.Go(func() error {
			t, err := ex.ExtractFile(ctx, storage, uri)
			if err != nil {
				return fmt.Errorf("failed to index %s: %w", uri, err)
			}
			logger.Debug("indexed", zap.String("uri", uri), zap.Int("records", len(t)))
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
	return writeOutput(cmd.Context(), indexOut, buf.Bytes())
}

func runTemplate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	doc, err := storage.ReadAll(ctx, args[0])
	if err != nil {
		return err
	}
	s, err := zarr.ParseStore(doc)
	if err != nil {
		return err
	}
	if err := s.ResolveTemplates(); err != nil {
		return err
	}
	n := s.StripChunks(templateKeep...)
	logger.Info("stripped chunks", zap.Int("deleted", n), zap.Int("kept", s.Len()))

	p := &persist.Persister{Storage: storage, Logger: logger}
	if templateConsolidate {
		if _, err := p.ConsolidateCoordinates(ctx, s, templateMetadataPath, templateKeep...); err != nil {
			return fmt.Errorf("failed to consolidate coordinates: %w", err)
		}
	}
	return p.Write(ctx, templateMetadataPath, s)
}

func runNetCDF(cmd *cobra.Command, args []string) error {
	msgs, err := (&decoder.NetCDF{ChunkDims: netcdfChunkDims, Logger: logger}).Messages(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	doc, err := msgs[0].Encode()
	if err != nil {
		return err
	}
	return writeOutput(cmd.Context(), netcdfOut, doc)
}

func init() {
	indexCmd.Flags().BoolVar(&indexGrib, "grib", false, "Fold vertical coordinates into level")
	indexCmd.Flags().StringVarP(&indexOut, "out", "o", "", "Output URI for the JSON lines table (default stdout)")

	templateCmd.Flags().StringVar(&templateMetadataPath, "metadata-path", "", "Directory URI the template is written to (required)")
	templateCmd.Flags().StringSliceVar(&templateKeep, "keep", persist.DefaultKeep, "Arrays whose chunks are kept")
	templateCmd.Flags().BoolVar(&templateConsolidate, "consolidate", false, "Copy kept coordinate chunks under --metadata-path")
	templateCmd.MarkFlagRequired("metadata-path")

	netcdfCmd.Flags().StringSliceVar(&netcdfChunkDims, "chunk-dim", nil, "Dimensions split into single index chunks")
	netcdfCmd.Flags().StringVarP(&netcdfOut, "out", "o", "", "Output URI for the store document (default stdout)")
}
