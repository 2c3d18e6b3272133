package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/postgis"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove nodes whose building no longer exists",
	Run:   runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()
	start := time.Now()

	store, err := postgis.Open(ctx, cfg, logger.Named("postgis"))
	if err != nil {
		exitWithError("failed to open store", err)
	}
	defer store.Close()

	removed, err := store.CleanupOrphans(ctx)
	if err != nil {
		exitWithError("cleanup failed", err)
	}
	log.Info("Cleanup complete",
		zap.Int64("nodes_removed", removed),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
}
