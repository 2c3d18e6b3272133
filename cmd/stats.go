package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/postgis"
)

var statsCmd = &cobra.Command{
	Use:         "stats",
	Short:       "Print store statistics as JSON",
	Annotations: map[string]string{stdoutAnnotation: "true"},
	Run:         runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := postgis.Open(ctx, cfg, logger.Named("postgis"))
	if err != nil {
		exitWithError("failed to open store", err)
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		exitWithError("failed to read statistics", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		exitWithError("failed to write statistics", err)
	}
}
