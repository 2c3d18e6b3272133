package memstore

import (
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/zeebo/xxh3"
)

// intersectsBound reports whether a polygon and a box share any point,
// matching ST_Intersects for simple polygons
func intersectsBound(p orb.Polygon, b orb.Bound) bool {
	if len(p) == 0 || len(p[0]) == 0 || !p.Bound().Intersects(b) {
		return false
	}
	shell := p[0]

	for _, pt := range shell {
		if b.Contains(pt) {
			return true
		}
	}

	corners := [4]orb.Point{
		b.Min,
		{b.Max[0], b.Min[1]},
		b.Max,
		{b.Min[0], b.Max[1]},
	}
	for _, c := range corners {
		if planar.RingContains(shell, c) {
			return true
		}
	}

	for i := 0; i+1 < len(shell); i++ {
		for j := 0; j < 4; j++ {
			if segmentsIntersect(shell[i], shell[i+1], corners[j], corners[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}

// containsStrict reports whether a point lies in the interior of a box,
// matching ST_Contains(box, point)
func containsStrict(b orb.Bound, p orb.Point) bool {
	return p[0] > b.Min[0] && p[0] < b.Max[0] && p[1] > b.Min[1] && p[1] < b.Max[1]
}

func segmentsIntersect(a1, a2, b1, b2 orb.Point) bool {
	d1 := orientation(b1, b2, a1)
	d2 := orientation(b1, b2, a2)
	d3 := orientation(a1, a2, b1)
	d4 := orientation(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(b1, b2, a1):
		return true
	case d2 == 0 && onSegment(b1, b2, a2):
		return true
	case d3 == 0 && onSegment(a1, a2, b1):
		return true
	case d4 == 0 && onSegment(a1, a2, b2):
		return true
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes p is collinear with a-b
func onSegment(a, b, p orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

// geometryKey identifies a polygon by its exact vertex sequence, the
// in-memory counterpart of md5(ST_AsText(geom))
func geometryKey(p orb.Polygon) xxh3.Uint128 {
	buf := make([]byte, 0, 64)
	for _, r := range p {
		buf = append(buf, '(')
		for _, pt := range r {
			buf = strconv.AppendFloat(buf, pt[0], 'g', -1, 64)
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, pt[1], 'g', -1, 64)
			buf = append(buf, ',')
		}
		buf = append(buf, ')')
	}
	return xxh3.Hash128(buf)
}
