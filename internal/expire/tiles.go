package expire

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Web Mercator latitude limits
const (
	MaxMercatorLat = 85.0511287798
	MinMercatorLat = -85.0511287798
)

// FormatTile renders a tile in z/x/y form
func FormatTile(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// LatLonToTile returns the tile containing a point, clamping to the
// Web Mercator world
func LatLonToTile(lat, lon float64, zoom int) maptile.Tile {
	lat = clamp(lat, MinMercatorLat, MaxMercatorLat)
	lon = clamp(lon, -180, 180)

	z := maptile.Zoom(zoom)
	t := maptile.At(orb.Point{lon, lat}, z)

	last := uint32(1)<<uint32(z) - 1
	if t.X > last {
		t.X = last
	}
	if t.Y > last {
		t.Y = last
	}
	return t
}

// TileRange is the inclusive rectangle of tiles covering a bound at one zoom
type TileRange struct {
	Z          maptile.Zoom
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// BoundToTileRange converts a lon/lat bound to a tile range. Tile rows grow
// southwards, so the north-west corner gives the minimum.
func BoundToTileRange(b orb.Bound, zoom int) TileRange {
	nw := LatLonToTile(b.Max[1], b.Min[0], zoom)
	se := LatLonToTile(b.Min[1], b.Max[0], zoom)
	return TileRange{
		Z:    maptile.Zoom(zoom),
		MinX: nw.X,
		MaxX: se.X,
		MinY: nw.Y,
		MaxY: se.Y,
	}
}

// TileCount returns the number of tiles in the range
func (r TileRange) TileCount() int {
	return int(r.MaxX-r.MinX+1) * int(r.MaxY-r.MinY+1)
}

// Tiles returns every tile in the range
func (r TileRange) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.TileCount())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, maptile.New(x, y, r.Z))
		}
	}
	return tiles
}

// AffectedTiles returns all tiles touched by a bound across zoom levels
func AffectedTiles(b orb.Bound, minZoom, maxZoom int) []maptile.Tile {
	if !validBound(b) {
		return nil
	}
	var tiles []maptile.Tile
	for z := minZoom; z <= maxZoom; z++ {
		tiles = append(tiles, BoundToTileRange(b, z).Tiles()...)
	}
	return tiles
}

func validBound(b orb.Bound) bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] &&
		b.Min[0] >= -180 && b.Max[0] <= 180 &&
		b.Min[1] >= -90 && b.Max[1] <= 90
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
