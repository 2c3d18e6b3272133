// Package postgis persists footprints in PostgreSQL with PostGIS and
// answers bounding-box queries against them.
package postgis

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/config"
)

// Store is a PostGIS-backed footprint store
type Store struct {
	pool   *pgxpool.Pool
	tables tables
	log    *zap.Logger
}

// Open connects a pool sized by cfg.DBMaxConns. Every concurrent query
// holds one connection, so the pool size caps serving concurrency.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &Store{pool: pool, tables: newTables(cfg.DBSchema), log: log}
	log.Debug("Connected to PostgreSQL",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return s, nil
}

// Close closes the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database answers
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the PostGIS extension, tables and indexes
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.tables.schemaSQL() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	s.log.Debug("Schema ready", zap.String("schema", s.tables.schema))
	return nil
}

// Analyze refreshes planner statistics after a batch
func (s *Store) Analyze(ctx context.Context) error {
	for _, t := range []string{s.tables.buildings, s.tables.nodes} {
		if _, err := s.pool.Exec(ctx, "ANALYZE "+t); err != nil {
			return fmt.Errorf("failed to analyze %s: %w", t, err)
		}
	}
	return nil
}
