package postgis

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/query"
)

// FindBuildings evaluates a bbox query. Buildings come back in result
// order with their ring nodes; nodes missing from the store are skipped.
func (s *Store) FindBuildings(ctx context.Context, req query.Request) ([]building.Building, error) {
	rows, err := s.pool.Query(ctx, s.tables.findSQL(req.Mode), findArgs(req)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buildings: %w", err)
	}

	var out []building.Building
	err = collect(rows, func(b *building.Building) error {
		out = append(out, *b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanBuildings streams every footprint in id order, optionally
// restricted to a source scope
func (s *Store) ScanBuildings(ctx context.Context, scope string, fn func(*building.Building) error) error {
	exact, like := scopePatterns(scope)
	rows, err := s.pool.Query(ctx, s.tables.scanSQL(), exact, like)
	if err != nil {
		return fmt.Errorf("failed to scan buildings: %w", err)
	}
	return collect(rows, fn)
}

// Stats summarizes the store
func (s *Store) Stats(ctx context.Context) (*building.StoreStats, error) {
	st := &building.StoreStats{}

	err := s.pool.QueryRow(ctx, s.tables.statsBuildingsSQL()).Scan(
		&st.Buildings, &st.BuildingsValid, &st.WithHeight, &st.AvgHeight, &st.MaxHeight, &st.MaxBuildingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read building stats: %w", err)
	}
	if err := s.pool.QueryRow(ctx, s.tables.statsNodesSQL()).Scan(&st.Nodes, &st.MinNodeID); err != nil {
		return nil, fmt.Errorf("failed to read node stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, s.tables.statsDatasetsSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset stats: %w", err)
	}
	st.Datasets, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (building.DatasetCount, error) {
		var d building.DatasetCount
		err := row.Scan(&d.Source, &d.Count)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset stats: %w", err)
	}
	return st, nil
}

// resultRow is one building-node row of a withNodesSQL query
type resultRow struct {
	id       int64
	wayRef   *int64
	source   string
	category *string
	height   *float64
	ele      *float64
	levels   *int32
	text     [13]*string // attributeColumns from name through landuse
	ring     []int64
	geom     []byte
	cx, cy   *float64

	seq    *int64
	rowID  *int64
	nodeID *int64
	lat    *float64
	lon    *float64
}

func (r *resultRow) dest() []any {
	d := []any{&r.id, &r.wayRef, &r.source, &r.category, &r.height, &r.ele, &r.levels}
	for i := range r.text {
		d = append(d, &r.text[i])
	}
	return append(d, &r.ring, &r.geom, &r.cx, &r.cy, &r.seq, &r.rowID, &r.nodeID, &r.lat, &r.lon)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *resultRow) building() (*building.Building, error) {
	b := &building.Building{
		ID:     r.id,
		Source: r.source,
		Ring:   append([]int64(nil), r.ring...),
		Nodes:  make([]building.Node, 0, len(r.ring)),
	}
	if r.wayRef != nil {
		b.WayRef = *r.wayRef
	}

	a := &b.Attributes
	a.Category = deref(r.category)
	a.Height = copyFloat(r.height)
	a.Elevation = copyFloat(r.ele)
	if r.levels != nil {
		l := int(*r.levels)
		a.Levels = &l
	}
	// text[3] is addr_full, which Attributes derives itself
	a.Name = deref(r.text[0])
	a.HouseNumber = deref(r.text[1])
	a.Street = deref(r.text[2])
	a.StartDate = deref(r.text[4])
	a.BuildingMaterial = deref(r.text[5])
	a.RoofMaterial = deref(r.text[6])
	a.RoofShape = deref(r.text[7])
	a.Amenity = deref(r.text[8])
	a.Shop = deref(r.text[9])
	a.Tourism = deref(r.text[10])
	a.Leisure = deref(r.text[11])
	a.Landuse = deref(r.text[12])

	if len(r.geom) > 0 {
		g, err := wkb.Unmarshal(r.geom)
		if err != nil {
			return nil, fmt.Errorf("building %d: failed to decode geometry: %w", r.id, err)
		}
		if p, ok := g.(orb.Polygon); ok {
			b.Polygon = p
		}
	}
	if r.cx != nil && r.cy != nil {
		b.Centroid = orb.Point{*r.cx, *r.cy}
	}
	return b, nil
}

func (r *resultRow) node() (building.Node, bool) {
	if r.seq == nil || r.rowID == nil || r.nodeID == nil || r.lat == nil || r.lon == nil {
		return building.Node{}, false
	}
	return building.Node{
		ID:         *r.nodeID,
		RowID:      *r.rowID,
		BuildingID: r.id,
		Seq:        int(*r.seq - 1),
		Lat:        *r.lat,
		Lon:        *r.lon,
	}, true
}

// collect groups consecutive rows of one building and hands each
// completed building to fn
func collect(rows pgx.Rows, fn func(*building.Building) error) error {
	defer rows.Close()

	var (
		row     resultRow
		current *building.Building
	)
	dest := row.dest()

	for rows.Next() {
		row.seq, row.rowID, row.nodeID, row.lat, row.lon = nil, nil, nil, nil, nil
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to read building row: %w", err)
		}

		if current == nil || current.ID != row.id {
			if current != nil {
				if err := fn(current); err != nil {
					return err
				}
			}
			b, err := row.building()
			if err != nil {
				return err
			}
			current = b
		}
		if n, ok := row.node(); ok {
			current.Nodes = append(current.Nodes, n)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read buildings: %w", err)
	}
	if current != nil {
		return fn(current)
	}
	return nil
}
