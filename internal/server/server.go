// Package server exposes the bbox query engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/config"
	"github.com/wegman-software/footprints/internal/query"
)

// StatsSource reports store statistics
type StatsSource interface {
	Stats(ctx context.Context) (*building.StoreStats, error)
}

// Pinger reports store reachability, may be nil
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves footprint queries
type Server struct {
	cfg    *config.Config
	engine *query.Engine
	stats  StatsSource
	ping   Pinger
	log    *zap.Logger
	router *gin.Engine
}

// New creates a server and its routes
func New(cfg *config.Config, engine *query.Engine, stats StatsSource, ping Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		engine: engine,
		stats:  stats,
		ping:   ping,
		log:    log,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(instrument())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/mapwithai/buildings", s.handleBuildings)
		api.HEAD("/mapwithai/buildings", s.handleBuildings)
	}
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With", "If-None-Match"},
		ExposeHeaders: []string{"ETag", "X-Buildings-Count"},
		MaxAge:        24 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) == 0 || slices.Contains(s.cfg.CORSOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.CORSOrigins
	}
	return cfg
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", zap.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
