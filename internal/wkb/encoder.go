// Package wkb encodes footprint geometry as PostGIS EWKB in EPSG:4326.
package wkb

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
)

// SRID4326 is WGS84, the only reference system footprints are stored in
const SRID4326 = 4326

// Polygon encodes a polygon; the first ring is the shell and the rest
// are holes
func Polygon(p orb.Polygon) ([]byte, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}
	b, err := ewkb.Marshal(p, SRID4326)
	if err != nil {
		return nil, fmt.Errorf("failed to encode polygon: %w", err)
	}
	return b, nil
}

// Point encodes a lon/lat point
func Point(p orb.Point) ([]byte, error) {
	b, err := ewkb.Marshal(p, SRID4326)
	if err != nil {
		return nil, fmt.Errorf("failed to encode point: %w", err)
	}
	return b, nil
}
