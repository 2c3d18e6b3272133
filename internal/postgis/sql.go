package postgis

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/query"
)

const (
	buildingsTable = "buildings"
	nodesTable     = "building_nodes"

	buildingsTmp = "footprints_buildings_tmp"
	nodesTmp     = "footprints_nodes_tmp"
)

// tables holds schema-qualified, quoted table names
type tables struct {
	schema    string
	buildings string
	nodes     string
}

func newTables(schema string) tables {
	if schema == "" {
		schema = "public"
	}
	return tables{
		schema:    pgx.Identifier{schema}.Sanitize(),
		buildings: pgx.Identifier{schema, buildingsTable}.Sanitize(),
		nodes:     pgx.Identifier{schema, nodesTable}.Sanitize(),
	}
}

// attributeColumns are stored in this order by the batch writer and read
// back in this order by every query
var attributeColumns = []string{
	"building", "height", "ele", "building_levels", "name",
	"addr_housenumber", "addr_street", "addr_full", "start_date",
	"building_material", "roof_material", "roof_shape",
	"amenity", "shop", "tourism", "leisure", "landuse",
}

func (t tables) schemaSQL() []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", t.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				way_ref BIGINT,
				building TEXT,
				height DOUBLE PRECISION,
				ele DOUBLE PRECISION,
				building_levels INTEGER,
				name TEXT,
				addr_housenumber TEXT,
				addr_street TEXT,
				addr_full TEXT,
				start_date TEXT,
				building_material TEXT,
				roof_material TEXT,
				roof_shape TEXT,
				amenity TEXT,
				shop TEXT,
				tourism TEXT,
				leisure TEXT,
				landuse TEXT,
				source_dataset TEXT NOT NULL,
				nodes BIGINT[] NOT NULL,
				geom GEOMETRY(Polygon, 4326) NOT NULL,
				centroid GEOMETRY(Point, 4326)
			)`, t.buildings),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				osm_id BIGINT NOT NULL UNIQUE,
				building_id BIGINT NOT NULL,
				sequence_id INTEGER NOT NULL,
				lat DOUBLE PRECISION NOT NULL,
				lon DOUBLE PRECISION NOT NULL,
				geom GEOMETRY(Point, 4326)
			)`, t.nodes),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS buildings_geom_idx ON %s USING GIST (geom)", t.buildings),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS buildings_centroid_idx ON %s USING GIST (centroid)", t.buildings),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS buildings_source_idx ON %s (source_dataset text_pattern_ops)", t.buildings),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS buildings_nodes_idx ON %s USING GIN (nodes)", t.buildings),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS building_nodes_building_idx ON %s (building_id)", t.nodes),
	}
}

// escapeLike escapes LIKE metacharacters with a backslash
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// scopePatterns returns the exact label and the LIKE pattern matching
// every label derived from scope, as building.InScope does
func scopePatterns(scope string) (exact, like string) {
	return scope, escapeLike(scope+"_") + "%"
}

const scopeWhere = "(source_dataset = $1 OR source_dataset LIKE $2)"

func (t tables) deleteNodesSQL() string {
	return fmt.Sprintf(`
		DELETE FROM %s n
		USING %s b
		WHERE n.building_id = b.id AND (b.source_dataset = $1 OR b.source_dataset LIKE $2)`,
		t.nodes, t.buildings)
}

func (t tables) deleteBuildingsSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", t.buildings, scopeWhere)
}

func (t tables) scopeIDsSQL() string {
	return fmt.Sprintf("SELECT id FROM %s WHERE %s", t.buildings, scopeWhere)
}

func (t tables) cleanupSQL() string {
	return fmt.Sprintf(`
		DELETE FROM %s n
		WHERE NOT EXISTS (SELECT 1 FROM %s b WHERE b.id = n.building_id)`,
		t.nodes, t.buildings)
}

// buildingCopyColumns are the temp table columns filled by COPY
func buildingCopyColumns() []string {
	cols := []string{"id", "way_ref"}
	cols = append(cols, attributeColumns...)
	return append(cols, "source_dataset", "nodes", "geom_wkb")
}

func buildingTmpSQL() string {
	return fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			id BIGINT,
			way_ref BIGINT,
			building TEXT,
			height DOUBLE PRECISION,
			ele DOUBLE PRECISION,
			building_levels INTEGER,
			name TEXT,
			addr_housenumber TEXT,
			addr_street TEXT,
			addr_full TEXT,
			start_date TEXT,
			building_material TEXT,
			roof_material TEXT,
			roof_shape TEXT,
			amenity TEXT,
			shop TEXT,
			tourism TEXT,
			leisure TEXT,
			landuse TEXT,
			source_dataset TEXT,
			nodes BIGINT[],
			geom_wkb BYTEA
		) ON COMMIT DROP`, buildingsTmp)
}

func (t tables) insertBuildingsSQL() string {
	attrs := strings.Join(attributeColumns, ", ")
	return fmt.Sprintf(`
		INSERT INTO %s (id, way_ref, %s, source_dataset, nodes, geom, centroid)
		SELECT id, way_ref, %s, source_dataset, nodes,
			ST_GeomFromEWKB(geom_wkb),
			ST_Centroid(ST_GeomFromEWKB(geom_wkb))
		FROM %s
		WHERE geom_wkb IS NOT NULL`, t.buildings, attrs, attrs, buildingsTmp)
}

func nodeCopyColumns() []string {
	return []string{"osm_id", "building_id", "sequence_id", "lat", "lon", "geom_wkb"}
}

func nodeTmpSQL() string {
	return fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			osm_id BIGINT,
			building_id BIGINT,
			sequence_id INTEGER,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			geom_wkb BYTEA
		) ON COMMIT DROP`, nodesTmp)
}

func (t tables) insertNodesSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (osm_id, building_id, sequence_id, lat, lon, geom)
		SELECT osm_id, building_id, sequence_id, lat, lon, ST_GeomFromEWKB(geom_wkb)
		FROM %s
		ON CONFLICT (osm_id) DO NOTHING`, t.nodes, nodesTmp)
}

// selectColumns is the shared projection of building-with-nodes queries.
// p is the picked building row, r the ring position and n the node row.
func selectColumns() string {
	cols := []string{"p.id", "p.way_ref", "p.source_dataset"}
	for _, c := range attributeColumns {
		cols = append(cols, "p."+c)
	}
	cols = append(cols,
		"p.nodes",
		"ST_AsBinary(p.geom)",
		"ST_X(p.centroid)",
		"ST_Y(p.centroid)",
		"r.seq",
		"n.id",
		"n.osm_id",
		"n.lat",
		"n.lon",
	)
	return strings.Join(cols, ", ")
}

// withNodesSQL joins the picked CTE with its ring nodes in ring order
func (t tables) withNodesSQL(picked string) string {
	return fmt.Sprintf(`
		%s
		SELECT %s
		FROM picked p
		LEFT JOIN LATERAL unnest(p.nodes) WITH ORDINALITY AS r(osm_id, seq) ON true
		LEFT JOIN %s n ON n.osm_id = r.osm_id
		ORDER BY p.ord, r.seq`, picked, selectColumns(), t.nodes)
}

// findSQL builds the bbox query for a mode. Parameters: $1..$4 box,
// $5 limit, and for ModeCentroid $6, $7 the box center.
func (t tables) findSQL(mode query.Mode) string {
	var picked string
	switch mode {
	case query.ModeCentroid:
		picked = fmt.Sprintf(`
		WITH env AS (SELECT ST_MakeEnvelope($1, $2, $3, $4, 4326) AS g),
		candidates AS (
			SELECT DISTINCT ON (md5(ST_AsText(b.geom))) b.*
			FROM %s b, env
			WHERE b.centroid && env.g AND ST_Contains(env.g, b.centroid)
			ORDER BY md5(ST_AsText(b.geom)), b.id
		),
		picked AS (
			SELECT c.*, ROW_NUMBER() OVER (
				ORDER BY ST_Distance(c.centroid, ST_SetSRID(ST_MakePoint($6, $7), 4326)), c.id
			) AS ord
			FROM candidates c
			ORDER BY ord
			LIMIT $5
		)`, t.buildings)
	default:
		picked = fmt.Sprintf(`
		WITH env AS (SELECT ST_MakeEnvelope($1, $2, $3, $4, 4326) AS g),
		picked AS (
			SELECT b.*, ROW_NUMBER() OVER (ORDER BY b.id) AS ord
			FROM %s b, env
			WHERE b.geom && env.g AND ST_Intersects(b.geom, env.g)
			ORDER BY b.id
			LIMIT $5
		)`, t.buildings)
	}
	return t.withNodesSQL(picked)
}

// findArgs returns the parameters for findSQL
func findArgs(req query.Request) []any {
	args := []any{req.MinLon, req.MinLat, req.MaxLon, req.MaxLat, req.Limit}
	if req.Mode == query.ModeCentroid {
		c := req.Center()
		args = append(args, c[0], c[1])
	}
	return args
}

// scanSQL streams buildings in id order. Parameters: $1 exact scope,
// $2 scope pattern; an empty $1 selects everything.
func (t tables) scanSQL() string {
	picked := fmt.Sprintf(`
		WITH picked AS (
			SELECT b.*, b.id AS ord
			FROM %s b
			WHERE $1 = '' OR b.source_dataset = $1 OR b.source_dataset LIKE $2
		)`, t.buildings)
	return t.withNodesSQL(picked)
}

func (t tables) identityMaxSQL() string {
	return fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", t.buildings)
}

func (t tables) identityMinSQL() string {
	return fmt.Sprintf("SELECT LEAST(COALESCE(MIN(osm_id), 0), 0) FROM %s", t.nodes)
}

func (t tables) identityCoordsSQL() string {
	return fmt.Sprintf("SELECT osm_id, lat, lon FROM %s", t.nodes)
}

func (t tables) statsBuildingsSQL() string {
	return fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE ST_IsValid(geom)),
			COUNT(height),
			AVG(height),
			MAX(height),
			COALESCE(MAX(id), 0)
		FROM %s`, t.buildings)
}

func (t tables) statsNodesSQL() string {
	return fmt.Sprintf("SELECT COUNT(*), LEAST(COALESCE(MIN(osm_id), 0), 0) FROM %s", t.nodes)
}

func (t tables) statsDatasetsSQL() string {
	return fmt.Sprintf(`
		SELECT source_dataset, COUNT(*)
		FROM %s
		GROUP BY source_dataset
		ORDER BY COUNT(*) DESC, source_dataset`, t.buildings)
}

// filterNodes keeps nodes whose owner is in written, first occurrence of
// each id wins
func filterNodes(nodes []building.Node, written map[int64]struct{}) (kept []building.Node, orphaned, repeated int64) {
	seen := make(map[int64]struct{}, len(nodes))
	kept = make([]building.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := written[n.BuildingID]; !ok {
			orphaned++
			continue
		}
		if _, ok := seen[n.ID]; ok {
			repeated++
			continue
		}
		seen[n.ID] = struct{}{}
		kept = append(kept, n)
	}
	return kept, orphaned, repeated
}
