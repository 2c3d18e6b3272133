package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/footprints/internal/logger"
	"github.com/wegman-software/footprints/internal/postgis"
	"github.com/wegman-software/footprints/internal/query"
	"github.com/wegman-software/footprints/internal/render"
	"github.com/wegman-software/footprints/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve bounding-box queries over HTTP",
	Long: `Serve stored footprints as OSM XML.

  GET /api/mapwithai/buildings?bbox=minlon,minlat,maxlon,maxlat[&limit=N][&use_intersects=false]
  GET /api/stats
  GET /health
  GET /metrics

With use_intersects (the default) every footprint touching the box is
returned in id order. Otherwise footprints are selected by centroid, one
per distinct geometry, nearest to the box center first.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "HTTP listen address")
	serveCmd.Flags().IntVar(&cfg.DefaultLimit, "default-limit", cfg.DefaultLimit, "Result limit when the request names none")
	serveCmd.Flags().IntVar(&cfg.MaxLimit, "max-limit", cfg.MaxLimit, "Upper bound on requested limits")
	serveCmd.Flags().DurationVar(&cfg.CacheMaxAge, "cache-max-age", cfg.CacheMaxAge, "Cache-Control max-age of query responses")
	serveCmd.Flags().StringSliceVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "Allowed CORS origins, * for any")
	serveCmd.Flags().StringVar(&cfg.SourceTag, "source-tag", cfg.SourceTag, "Value of the source tag on served ways")
}

func runServe(cmd *cobra.Command, args []string) {
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgis.Open(ctx, cfg, logger.Named("postgis"))
	if err != nil {
		exitWithError("failed to open store", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		log.Warn("Database not reachable at startup", zap.Error(err))
	}

	engine := query.NewEngine(store, render.NewCodec(renderOptions(), logger.Named("render")), logger.Named("query"))
	srv := server.New(cfg, engine, store, store, logger.Named("http"))

	if err := srv.Run(ctx); err != nil {
		exitWithError("server failed", err)
	}
	log.Info("Server stopped")
}
