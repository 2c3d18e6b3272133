package postgis

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/canon"
	"github.com/wegman-software/footprints/internal/wkb"
)

// LoadIdentity reads the id counters and every stored coordinate key
func (s *Store) LoadIdentity(ctx context.Context) (*building.Identity, error) {
	ident := &building.Identity{}

	if err := s.pool.QueryRow(ctx, s.tables.identityMaxSQL()).Scan(&ident.MaxBuildingID); err != nil {
		return nil, fmt.Errorf("failed to read max building id: %w", err)
	}
	if err := s.pool.QueryRow(ctx, s.tables.identityMinSQL()).Scan(&ident.MinNodeID); err != nil {
		return nil, fmt.Errorf("failed to read min node id: %w", err)
	}

	rows, err := s.pool.Query(ctx, s.tables.identityCoordsSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to read node coordinates: %w", err)
	}
	defer rows.Close()

	ident.Coords = make(map[string]int64)
	var (
		id       int64
		lat, lon float64
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &lat, &lon}, func() error {
		ident.Coords[canon.CoordKey(lat, lon)] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read node coordinates: %w", err)
	}
	return ident, nil
}

// CleanupOrphans deletes nodes whose owning building no longer exists
func (s *Store) CleanupOrphans(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.tables.cleanupSQL())
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan nodes: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Info("Deleted orphan nodes", zap.Int64("nodes", n))
	}
	return tag.RowsAffected(), nil
}

// WriteBatch replaces every building in the batch scope with the batch
// content in a single transaction
func (s *Store) WriteBatch(ctx context.Context, batch *building.Batch) (*building.BatchResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &building.BatchResult{}
	exact, like := scopePatterns(batch.Scope)

	// children before parents
	tag, err := tx.Exec(ctx, s.tables.deleteNodesSQL(), exact, like)
	if err != nil {
		return nil, fmt.Errorf("failed to delete nodes in scope %s: %w", batch.Scope, err)
	}
	res.NodesDeleted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, s.tables.deleteBuildingsSQL(), exact, like)
	if err != nil {
		return nil, fmt.Errorf("failed to delete buildings in scope %s: %w", batch.Scope, err)
	}
	res.BuildingsDeleted = tag.RowsAffected()

	if res.BuildingsWritten, err = s.copyBuildings(ctx, tx, batch.Buildings); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, s.tables.scopeIDsSQL(), exact, like)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve written buildings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve written buildings: %w", err)
	}
	written := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		written[id] = struct{}{}
	}

	nodes, orphaned, repeated := filterNodes(batch.Nodes, written)
	res.NodesOrphaned = orphaned
	res.NodesRepeated = repeated

	if res.NodesWritten, err = s.copyNodes(ctx, tx, nodes); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return res, nil
}

func (s *Store) copyBuildings(ctx context.Context, tx pgx.Tx, buildings []building.Building) (int64, error) {
	if _, err := tx.Exec(ctx, buildingTmpSQL()); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{buildingsTmp},
		buildingCopyColumns(),
		pgx.CopyFromSlice(len(buildings), func(i int) ([]any, error) {
			b := &buildings[i]
			geom, err := wkb.Polygon(b.Polygon)
			if err != nil {
				return nil, fmt.Errorf("building %d: %w", b.ID, err)
			}
			row := []any{b.ID, b.WayRef}
			row = append(row, attributeValues(b.Attributes)...)
			return append(row, b.Source, b.Ring, geom), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("COPY buildings failed: %w", err)
	}

	tag, err := tx.Exec(ctx, s.tables.insertBuildingsSQL())
	if err != nil {
		return 0, fmt.Errorf("failed to insert buildings: %w", err)
	}
	s.log.Debug("Buildings copied", zap.Int64("copied", copied), zap.Int64("inserted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (s *Store) copyNodes(ctx context.Context, tx pgx.Tx, nodes []building.Node) (int64, error) {
	if _, err := tx.Exec(ctx, nodeTmpSQL()); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{nodesTmp},
		nodeCopyColumns(),
		pgx.CopyFromSlice(len(nodes), func(i int) ([]any, error) {
			n := nodes[i]
			pt, err := wkb.Point(orb.Point{n.Lon, n.Lat})
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", n.ID, err)
			}
			return []any{n.ID, n.BuildingID, int32(n.Seq), n.Lat, n.Lon, pt}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("COPY nodes failed: %w", err)
	}

	tag, err := tx.Exec(ctx, s.tables.insertNodesSQL())
	if err != nil {
		return 0, fmt.Errorf("failed to insert nodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// attributeValues returns COPY values in attributeColumns order. Empty
// strings become NULL.
func attributeValues(a building.Attributes) []any {
	var levels any
	if a.Levels != nil {
		levels = int32(*a.Levels)
	}
	return []any{
		nullString(a.Category),
		a.Height,
		a.Elevation,
		levels,
		nullString(a.Name),
		nullString(a.HouseNumber),
		nullString(a.Street),
		nullString(a.AddrFull()),
		nullString(a.StartDate),
		nullString(a.BuildingMaterial),
		nullString(a.RoofMaterial),
		nullString(a.RoofShape),
		nullString(a.Amenity),
		nullString(a.Shop),
		nullString(a.Tourism),
		nullString(a.Leisure),
		nullString(a.Landuse),
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
