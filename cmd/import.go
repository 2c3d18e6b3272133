package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/config"
	"github.com/wegman-software/footprints/internal/expire"
	"github.com/wegman-software/footprints/internal/ingest"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/metrics"
	"github.com/wegman-software/footprints/internal/postgis"
	"github.com/wegman-software/footprints/internal/style"
)

var (
	boundsStr   string
	styleFile   string
	skipCleanup bool
	skipAnalyze bool
)

var importCmd = &cobra.Command{
	Use:   "import <file|dir>...",
	Short: "Import building footprints into PostGIS",
	Long: `Import OSM documents (.osm, .osm.gz, .osm.pbf) as one batch.

Directories are searched for documents. Every building previously stored
under the origin is replaced by the batch, so re-importing the same inputs
leaves the store unchanged. Node identities are derived from coordinates
and survive re-imports; a vertex shared with an earlier import keeps its id.

Malformed documents are skipped with a warning. Nothing is committed when
no footprint survives canonicalization.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&cfg.Origin, "origin", cfg.Origin, "Dataset origin, e.g. a municipality code (required)")
	importCmd.Flags().StringVarP(&boundsStr, "bounds", "b", "", "Node bounds: minlon,minlat,maxlon,maxlat, or none (default: Japan)")
	importCmd.Flags().StringVarP(&styleFile, "style", "S", "", "Category profile YAML")
	importCmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "Do not remove orphan nodes before writing")
	importCmd.Flags().BoolVar(&skipAnalyze, "skip-analyze", false, "Do not ANALYZE tables after writing")
	importCmd.Flags().StringVarP(&cfg.ExpireOutput, "expire-output", "e", cfg.ExpireOutput, "Path to expire tiles output file")
	importCmd.Flags().IntVar(&cfg.ExpireMinZoom, "expire-min-zoom", cfg.ExpireMinZoom, "Minimum zoom level for tile expiry")
	importCmd.Flags().IntVar(&cfg.ExpireMaxZoom, "expire-max-zoom", cfg.ExpireMaxZoom, "Maximum zoom level for tile expiry")
}

// newParser builds a parser from the bounds flag and the category profile.
// Profile bounds and source apply unless overridden by flags.
func newParser(cmd *cobra.Command, boundsFlag, profile string) (*ingest.Parser, error) {
	sc := style.DefaultConfig()
	if profile != "" {
		loaded, err := style.LoadConfig(profile)
		if err != nil {
			return nil, err
		}
		sc = loaded
		if sc.Source != "" && !cmd.Flags().Changed("source-tag") {
			cfg.SourceTag = sc.Source
		}
	}

	switch {
	case boundsFlag != "":
		b, err := config.ParseBBox(boundsFlag)
		if err != nil {
			return nil, err
		}
		cfg.Bounds = b
	case sc.Bounds != "":
		b, err := config.ParseBBox(sc.Bounds)
		if err != nil {
			return nil, err
		}
		cfg.Bounds = b
	}

	return ingest.NewParser(cfg.Bounds, style.NewFilter(sc.Buildings)), nil
}

func newTracker() *expire.Tracker {
	if cfg.ExpireOutput == "" {
		return nil
	}
	return expire.NewTracker(cfg.ExpireMinZoom, cfg.ExpireMaxZoom)
}

// runSampled runs an import while the system metrics sampler logs progress
func runSampled(ctx context.Context, im *ingest.Importer, inputs []ingest.Input) (*ingest.Stats, error) {
	collector := metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics")).WithProgress(im.Progress)

	var stats *ingest.Stats
	g, gctx := errgroup.WithContext(ctx)
	sampleCtx, stopSampling := context.WithCancel(gctx)
	g.Go(func() error {
		collector.Start(sampleCtx)
		return nil
	})
	g.Go(func() error {
		defer stopSampling()
		var err error
		stats, err = im.Run(gctx, inputs)
		return err
	})
	err := g.Wait()
	return stats, err
}

func runImport(cmd *cobra.Command, args []string) {
	log := logger.Get()

	parser, err := newParser(cmd, boundsStr, styleFile)
	if err != nil {
		exitWithError("invalid ingest settings", err)
	}
	if err := cfg.ValidateImport(); err != nil {
		exitWithError("invalid configuration", err)
	}

	inputs, err := ingest.CollectInputs(args)
	if err != nil {
		exitWithError("failed to collect inputs", err)
	}

	log.Info("Starting footprint import",
		zap.String("origin", cfg.Origin),
		zap.Int("documents", len(inputs)),
		zap.String("bounds", cfg.Bounds.String()),
		zap.String("style", styleFile),
		zap.String("database", cfg.DBName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgis.Open(ctx, cfg, logger.Named("postgis"))
	if err != nil {
		exitWithError("failed to open store", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		exitWithError("failed to prepare schema", err)
	}

	tracker := newTracker()
	im := ingest.NewImporter(store, parser, ingest.Options{
		Origin:      cfg.Origin,
		Expire:      tracker,
		SkipCleanup: skipCleanup,
	}, logger.Named("ingest"))

	totalStart := time.Now()
	stats, err := runSampled(ctx, im, inputs)
	if errors.Is(err, ingest.ErrNoBuildings) {
		log.Warn("No footprints to import, store unchanged",
			zap.Int("documents", stats.Documents),
			zap.Int("failed_documents", stats.FailedDocuments),
			zap.Int("ways", stats.Parse.Ways),
		)
		logger.Sync()
		os.Exit(1)
	}
	if err != nil {
		exitWithError("import failed", err)
	}

	if !skipAnalyze {
		if err := store.Analyze(ctx); err != nil {
			log.Warn("Failed to analyze tables", zap.Error(err))
		}
	}

	if tracker != nil {
		if err := tracker.WriteToFile(cfg.ExpireOutput); err != nil {
			exitWithError("failed to write expire tiles", err)
		}
		log.Info("Wrote expired tiles", zap.String("path", cfg.ExpireOutput), zap.Int("tiles", tracker.Count()))
	}

	log.Info("Import complete",
		zap.Duration("total_time", time.Since(totalStart).Round(time.Millisecond)),
		zap.Int("documents", stats.Documents),
		zap.Int("failed_documents", stats.FailedDocuments),
		zap.Int("ways", stats.Parse.Ways),
		zap.Int("accepted", stats.Canon.Accepted),
		zap.Int("duplicates", stats.Canon.Duplicates),
		zap.Int("degenerate", stats.Canon.Degenerate),
		zap.Int("too_few", stats.Canon.TooFew),
		zap.Int("nodes_minted", stats.Canon.NodesMinted),
		zap.Int64("buildings_replaced", stats.Batch.BuildingsDeleted),
		zap.Int64("buildings_written", stats.Batch.BuildingsWritten),
		zap.Int64("nodes_written", stats.Batch.NodesWritten),
		zap.Int64("orphans_removed", stats.OrphansRemoved),
		zap.Bool("seed_failed", stats.SeedFailed),
	)
}
