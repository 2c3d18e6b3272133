package canon

import (
	"math"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/zeebo/xxh3"
)

// CloseEpsilon is the per-axis tolerance under which the last vertex of a
// ring counts as a repeat of the first.
const CloseEpsilon = 1e-7

// MinTriangleArea is the smallest planar area, in square degrees, a
// three-vertex footprint may have.
const MinTriangleArea = 1e-10

// SamePoint reports whether two points are equal within CloseEpsilon
func SamePoint(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < CloseEpsilon && math.Abs(a[1]-b[1]) < CloseEpsilon
}

// OpenRing drops a terminal vertex that repeats the first one. The input
// is not modified.
func OpenRing(points []orb.Point) []orb.Point {
	if len(points) > 1 && SamePoint(points[0], points[len(points)-1]) {
		return points[:len(points)-1]
	}
	return points
}

// CloseRing returns an orb ring that ends on its first vertex
func CloseRing(points []orb.Point) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	ring = append(ring, points...)
	if len(ring) > 0 && !SamePoint(ring[0], ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// TriangleArea returns the unsigned shoelace area of three points
func TriangleArea(a, b, c orb.Point) float64 {
	return math.Abs((a[0]*(b[1]-c[1]) + b[0]*(c[1]-a[1]) + c[0]*(a[1]-b[1])) / 2)
}

// DistinctVertices counts vertices that differ at identity precision
func DistinctVertices(points []orb.Point) int {
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		seen[CoordKey(p[1], p[0])] = struct{}{}
	}
	return len(seen)
}

// RingHash is the order-independent content hash of an open ring: the
// sorted list of rounded "lon,lat" strings joined with "|". Rings with the
// same vertex set collide regardless of start vertex or winding.
func RingHash(points []orb.Point) xxh3.Uint128 {
	keys := make([]string, len(points))
	for i, p := range points {
		b := make([]byte, 0, 24)
		b = appendCoord(b, p[0])
		b = append(b, ',')
		b = appendCoord(b, p[1])
		keys[i] = string(b)
	}
	slices.Sort(keys)
	return xxh3.HashString128(strings.Join(keys, "|"))
}

// DuplicateSet tracks ring hashes seen during one import run
type DuplicateSet struct {
	seen map[xxh3.Uint128]struct{}
}

// NewDuplicateSet creates an empty set
func NewDuplicateSet() *DuplicateSet {
	return &DuplicateSet{seen: make(map[xxh3.Uint128]struct{})}
}

// Seen reports whether an equivalent ring was already recorded, and
// records this one if not.
func (d *DuplicateSet) Seen(points []orb.Point) bool {
	h := RingHash(points)
	if _, ok := d.seen[h]; ok {
		return true
	}
	d.seen[h] = struct{}{}
	return false
}

// Len returns the number of distinct rings recorded
func (d *DuplicateSet) Len() int {
	return len(d.seen)
}
