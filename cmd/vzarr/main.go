// Command vzarr builds virtual zarr stores from grib index files.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/metrics"
)

var (
	// Global flags
	verbose bool
	workers int

	logger   *zap.Logger
	storage  *zarr.Storage
	registry *prometheus.Registry
	counters *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "vzarr",
	Short: "Build virtual zarr stores from grib files and their sidecar indexes",
	Long: `vzarr indexes kerchunk reference stores, builds reusable mappings from
sidecar .idx files, and reinflates deflated templates into aggregated stores
covering many forecast runs.

URIs may be local paths, file:// URIs or any bucket URL supported by gocloud.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		storage = zarr.NewStorage()
		registry = prometheus.NewRegistry()
		counters = metrics.New(registry)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logCounters()
		if storage != nil {
			if err := storage.Close(); err != nil {
				logger.Warn("failed to close storage", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// logCounters reports every non-zero counter once the command is done.
func logCounters() {
	if registry == nil || logger == nil {
		return
	}
	families, err := registry.Gather()
	if err != nil {
		logger.Warn("failed to gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			fields := []zap.Field{zap.String("metric", mf.GetName()), zap.Float64("value", v)}
			for _, lp := range m.GetLabel() {
				fields = append(fields, zap.String(lp.GetName(), lp.GetValue()))
			}
			logger.Info("counter", fields...)
		}
	}
}

// writeOutput writes data to uri, or stdout when uri is empty or "-".
func writeOutput(ctx context.Context, uri string, data []byte) error {
	if uri == "" || uri == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := storage.Write(ctx, uri, data); err != nil {
		return err
	}
	logger.Info("wrote output", zap.String("uri", uri), zap.Int("bytes", len(data)))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "j", runtime.GOMAXPROCS(0), "Files processed in parallel")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(reinflateCmd)
	rootCmd.AddCommand(netcdfCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
