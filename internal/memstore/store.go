// Package memstore keeps footprints in process memory. It honors the same
// batch, identity and query contracts as the PostGIS store and backs the
// offline convert command.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb/planar"
	"github.com/zeebo/xxh3"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/canon"
	"github.com/wegman-software/footprints/internal/query"
)

// Store is an in-memory footprint store, safe for concurrent use
type Store struct {
	mu        sync.RWMutex
	buildings map[int64]*building.Building
	nodes     map[int64]*building.Node // by canonical id
	nextRow   int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		buildings: make(map[int64]*building.Building),
		nodes:     make(map[int64]*building.Node),
	}
}

// LoadIdentity returns id counters and every stored coordinate key
func (s *Store) LoadIdentity(ctx context.Context) (*building.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident := &building.Identity{Coords: make(map[string]int64, len(s.nodes))}
	for id := range s.buildings {
		if id > ident.MaxBuildingID {
			ident.MaxBuildingID = id
		}
	}
	for id, n := range s.nodes {
		if id < ident.MinNodeID {
			ident.MinNodeID = id
		}
		ident.Coords[canon.CoordKey(n.Lat, n.Lon)] = id
	}
	return ident, nil
}

// CleanupOrphans deletes nodes whose owning building no longer exists
func (s *Store) CleanupOrphans(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, n := range s.nodes {
		if _, ok := s.buildings[n.BuildingID]; !ok {
			delete(s.nodes, id)
			removed++
		}
	}
	return removed, nil
}

// WriteBatch replaces every building in the batch scope with the batch
// content. The batch is validated first so a failure leaves the store
// untouched.
func (s *Store) WriteBatch(ctx context.Context, batch *building.Batch) (*building.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(batch.Buildings))
	for i := range batch.Buildings {
		b := &batch.Buildings[i]
		if b.ID <= 0 {
			return nil, fmt.Errorf("building has non-positive id %d", b.ID)
		}
		if len(b.Polygon) == 0 || len(b.Polygon[0]) < 4 {
			return nil, fmt.Errorf("building %d has no valid ring", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("duplicate building id %d in batch", b.ID)
		}
		seen[b.ID] = struct{}{}
		if old, ok := s.buildings[b.ID]; ok && !building.InScope(old.Source, batch.Scope) {
			return nil, fmt.Errorf("building id %d already used by %s", b.ID, old.Source)
		}
	}

	res := &building.BatchResult{}

	deleted := make(map[int64]struct{})
	for id, b := range s.buildings {
		if building.InScope(b.Source, batch.Scope) {
			delete(s.buildings, id)
			deleted[id] = struct{}{}
			res.BuildingsDeleted++
		}
	}
	for id, n := range s.nodes {
		if _, ok := deleted[n.BuildingID]; ok {
			delete(s.nodes, id)
			res.NodesDeleted++
		}
	}

	for i := range batch.Buildings {
		b := batch.Buildings[i]
		b.Nodes = nil
		b.Ring = append([]int64(nil), b.Ring...)
		s.buildings[b.ID] = &b
		res.BuildingsWritten++
	}

	written := make(map[int64]struct{}, len(batch.Nodes))
	for _, n := range batch.Nodes {
		if _, ok := seen[n.BuildingID]; !ok {
			res.NodesOrphaned++
			continue
		}
		if _, ok := written[n.ID]; ok {
			res.NodesRepeated++
			continue
		}
		written[n.ID] = struct{}{}
		if _, exists := s.nodes[n.ID]; exists {
			continue
		}
		s.nextRow++
		n.RowID = s.nextRow
		s.nodes[n.ID] = &n
		res.NodesWritten++
	}

	return res, nil
}

// FindBuildings evaluates a query against stored footprints
func (s *Store) FindBuildings(ctx context.Context, req query.Request) ([]building.Building, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	box := req.Bound()
	var picked []*building.Building

	switch req.Mode {
	case query.ModeCentroid:
		center := req.Center()
		best := make(map[xxh3.Uint128]*building.Building)
		for _, b := range s.buildings {
			if !containsStrict(box, b.Centroid) {
				continue
			}
			key := geometryKey(b.Polygon)
			if cur, ok := best[key]; !ok || b.ID < cur.ID {
				best[key] = b
			}
		}
		for _, b := range best {
			picked = append(picked, b)
		}
		sort.Slice(picked, func(i, j int) bool {
			di := planar.Distance(picked[i].Centroid, center)
			dj := planar.Distance(picked[j].Centroid, center)
			if di != dj {
				return di < dj
			}
			return picked[i].ID < picked[j].ID
		})
	default:
		for _, b := range s.buildings {
			if intersectsBound(b.Polygon, box) {
				picked = append(picked, b)
			}
		}
		sort.Slice(picked, func(i, j int) bool { return picked[i].ID < picked[j].ID })
	}

	if len(picked) > req.Limit {
		picked = picked[:req.Limit]
	}

	out := make([]building.Building, len(picked))
	for i, b := range picked {
		out[i] = s.withNodes(b)
	}
	return out, nil
}

// withNodes copies a building and attaches its ring nodes. Nodes that
// are not stored are skipped.
func (s *Store) withNodes(b *building.Building) building.Building {
	c := *b
	c.Nodes = make([]building.Node, 0, len(b.Ring))
	for seq, id := range b.Ring {
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		node := *n
		node.Seq = seq
		c.Nodes = append(c.Nodes, node)
	}
	return c
}

// Stats summarizes the store
func (s *Store) Stats(ctx context.Context) (*building.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &building.StoreStats{
		Buildings: int64(len(s.buildings)),
		Nodes:     int64(len(s.nodes)),
	}
	counts := make(map[string]int64)
	var heightSum float64
	for id, b := range s.buildings {
		if id > st.MaxBuildingID {
			st.MaxBuildingID = id
		}
		if len(b.Polygon) > 0 && len(b.Polygon[0]) >= 4 {
			st.BuildingsValid++
		}
		if b.Height != nil {
			st.WithHeight++
			heightSum += *b.Height
			if st.MaxHeight == nil || *b.Height > *st.MaxHeight {
				h := *b.Height
				st.MaxHeight = &h
			}
		}
		counts[b.Source]++
	}
	for id := range s.nodes {
		if id < st.MinNodeID {
			st.MinNodeID = id
		}
	}
	if st.WithHeight > 0 {
		avg := heightSum / float64(st.WithHeight)
		st.AvgHeight = &avg
	}
	for src, n := range counts {
		st.Datasets = append(st.Datasets, building.DatasetCount{Source: src, Count: n})
	}
	sort.Slice(st.Datasets, func(i, j int) bool {
		if st.Datasets[i].Count != st.Datasets[j].Count {
			return st.Datasets[i].Count > st.Datasets[j].Count
		}
		return st.Datasets[i].Source < st.Datasets[j].Source
	})
	return st, nil
}

// ScanBuildings calls fn for every footprint in id order, optionally
// restricted to a source scope
func (s *Store) ScanBuildings(ctx context.Context, scope string, fn func(*building.Building) error) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.buildings))
	for id, b := range s.buildings {
		if scope == "" || building.InScope(b.Source, scope) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		b, ok := s.buildings[id]
		var c building.Building
		if ok {
			c = s.withNodes(b)
		}
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(&c); err != nil {
			return err
		}
	}
	return nil
}

// Extent returns the bounding box of all stored footprints and false if
// the store is empty
func (s *Store) Extent() (query.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := true
	var r query.Request
	for _, b := range s.buildings {
		bound := b.Polygon.Bound()
		if first {
			r = query.Request{MinLon: bound.Min[0], MinLat: bound.Min[1], MaxLon: bound.Max[0], MaxLat: bound.Max[1]}
			first = false
			continue
		}
		r.MinLon = min(r.MinLon, bound.Min[0])
		r.MinLat = min(r.MinLat, bound.Min[1])
		r.MaxLon = max(r.MaxLon, bound.Max[0])
		r.MaxLat = max(r.MaxLat, bound.Max[1])
	}
	return r, !first
}
