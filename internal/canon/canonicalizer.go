package canon

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/footprints/internal/building"
)

// Decision is the outcome of canonicalizing one candidate way
type Decision int

const (
	Accepted Decision = iota
	Duplicate
	Degenerate
	TooFew
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Degenerate:
		return "degenerate"
	case TooFew:
		return "too_few_vertices"
	default:
		return "unknown"
	}
}

// Candidate is a building way with its vertices already resolved to
// coordinates, in ring order.
type Candidate struct {
	WayRef   int64
	Category string
	Tags     map[string]string
	Source   string
	Vertices []orb.Point // lon, lat
}

// Stats counts canonicalization outcomes
type Stats struct {
	Accepted    int
	Duplicates  int
	Degenerate  int
	TooFew      int
	NodesMinted int
}

// Canonicalizer turns candidate ways into buildings with stable ids. One
// instance serves one import run.
type Canonicalizer struct {
	seq   *Sequences
	ids   *IdentityTable
	dups  *DuplicateSet
	stats Stats
}

// New creates a canonicalizer over a seeded allocator and identity table
func New(seq *Sequences, ids *IdentityTable) *Canonicalizer {
	return &Canonicalizer{
		seq:  seq,
		ids:  ids,
		dups: NewDuplicateSet(),
	}
}

// Seeded builds a canonicalizer from stored identity state. A nil
// identity yields default counters.
func Seeded(ident *building.Identity) *Canonicalizer {
	if ident == nil {
		seq := NewSequences(0, 0)
		return New(seq, NewIdentityTable(seq))
	}
	seq := NewSequences(ident.MaxBuildingID, ident.MinNodeID)
	ids := NewIdentityTable(seq)
	for key, id := range ident.Coords {
		ids.Seed(key, id)
	}
	return New(seq, ids)
}

// Accept canonicalizes one candidate. When the decision is Accepted the
// returned building carries a fresh id and the returned nodes hold the
// ring vertices in order; otherwise both are empty.
func (c *Canonicalizer) Accept(cand Candidate) (*building.Building, []building.Node, Decision) {
	open := OpenRing(cand.Vertices)
	if len(open) < 3 {
		c.stats.TooFew++
		return nil, nil, TooFew
	}
	if DistinctVertices(open) < 3 {
		c.stats.Degenerate++
		return nil, nil, Degenerate
	}
	if c.dups.Seen(open) {
		c.stats.Duplicates++
		return nil, nil, Duplicate
	}
	if len(open) == 3 && TriangleArea(open[0], open[1], open[2]) < MinTriangleArea {
		c.stats.Degenerate++
		return nil, nil, Degenerate
	}

	b := &building.Building{
		ID:         c.seq.NextBuilding(),
		WayRef:     cand.WayRef,
		Source:     cand.Source,
		Attributes: building.MapTags(cand.Category, cand.Tags),
		Ring:       make([]int64, len(open)),
	}
	nodes := make([]building.Node, len(open))
	for i, p := range open {
		id, minted := c.ids.Resolve(p[1], p[0])
		if minted {
			c.stats.NodesMinted++
		}
		b.Ring[i] = id
		nodes[i] = building.Node{
			ID:         id,
			BuildingID: b.ID,
			Seq:        i,
			Lat:        p[1],
			Lon:        p[0],
		}
	}

	ring := CloseRing(open)
	b.Polygon = orb.Polygon{ring}
	b.Centroid, _ = planar.CentroidArea(b.Polygon)

	c.stats.Accepted++
	return b, nodes, Accepted
}

// Stats returns outcome counts so far
func (c *Canonicalizer) Stats() Stats {
	return c.stats
}
