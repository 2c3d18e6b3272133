package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/parquet"
	"github.com/wegman-software/footprints/internal/postgis"
)

var (
	exportOutput    string
	exportSource    string
	exportBatchSize int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored footprints to Parquet",
	Long: `Write stored footprints to a Parquet file, one row per building with
its polygon as WKB, its centroid and its attributes.

--source restricts the export to one origin or source label.`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "buildings.parquet", "Output Parquet file")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Origin or source label to export (default: all)")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 10000, "Rows per Parquet record batch")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()
	start := time.Now()

	store, err := postgis.Open(ctx, cfg, logger.Named("postgis"))
	if err != nil {
		exitWithError("failed to open store", err)
	}
	defer store.Close()

	w, err := parquet.NewBuildingWriter(exportOutput, exportBatchSize)
	if err != nil {
		exitWithError("failed to create parquet writer", err)
	}

	if err := store.ScanBuildings(ctx, exportSource, w.Write); err != nil {
		_ = w.Close()
		exitWithError("export failed", err)
	}
	if err := w.Close(); err != nil {
		exitWithError("failed to finish parquet file", err)
	}

	log.Info("Export complete",
		zap.String("output", exportOutput),
		zap.String("source", exportSource),
		zap.Int("buildings", w.Count()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
}
