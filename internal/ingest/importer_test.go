package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/canon"
	"github.com/wegman-software/footprints/internal/expire"
	"github.com/wegman-software/footprints/internal/memstore"
)

// twoSquares shares the edge lon=133.001 between ways 10 and 11
const twoSquares = `<osm version="0.6">
  <node id="1" lat="35.0" lon="133.0"/>
  <node id="2" lat="35.0" lon="133.001"/>
  <node id="3" lat="35.001" lon="133.001"/>
  <node id="4" lat="35.001" lon="133.0"/>
  <node id="5" lat="35.0" lon="133.002"/>
  <node id="6" lat="35.001" lon="133.002"/>
  <way id="10"><nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/><tag k="building" v="yes"/></way>
  <way id="11"><nd ref="2"/><nd ref="5"/><nd ref="6"/><nd ref="3"/><nd ref="2"/><tag k="building" v="house"/></way>
</osm>`

// duplicateWays holds the same square twice with opposite winding
const duplicateWays = `<osm version="0.6">
  <node id="1" lat="35.0" lon="133.0"/>
  <node id="2" lat="35.0" lon="133.001"/>
  <node id="3" lat="35.001" lon="133.001"/>
  <node id="4" lat="35.001" lon="133.0"/>
  <way id="10"><nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/><tag k="building" v="yes"/></way>
  <way id="11"><nd ref="1"/><nd ref="4"/><nd ref="3"/><nd ref="2"/><nd ref="1"/><tag k="building" v="yes"/></way>
</osm>`

func newImporter(store Store, origin string, tracker *expire.Tracker) *Importer {
	return NewImporter(store, NewParser(nil, nil), Options{Origin: origin, Expire: tracker}, nil)
}

func mustStats(t *testing.T, s *memstore.Store) *building.StoreStats {
	t.Helper()
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}

func TestImportTriangle(t *testing.T) {
	store := memstore.New()
	tracker := expire.NewTracker(10, 12)

	stats, err := newImporter(store, "32202", tracker).Run(context.Background(),
		[]Input{BytesInput("tri.osm", []byte(triangleDoc))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stats.Committed || stats.Batch.BuildingsWritten != 1 || stats.Batch.NodesWritten != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if tracker.Count() == 0 {
		t.Error("no tiles expired")
	}

	st := mustStats(t, store)
	if st.Buildings != 1 || st.Nodes != 3 {
		t.Fatalf("store has %d buildings %d nodes, want 1 and 3", st.Buildings, st.Nodes)
	}
	if st.MinNodeID != -3 || st.MaxBuildingID != 1 {
		t.Errorf("ids = max building %d min node %d", st.MaxBuildingID, st.MinNodeID)
	}
	if len(st.Datasets) != 1 || st.Datasets[0].Source != "32202_tri.osm" {
		t.Errorf("datasets = %+v", st.Datasets)
	}

	err = store.ScanBuildings(context.Background(), "", func(b *building.Building) error {
		if b.Category != "house" || b.Height == nil || *b.Height != 12.5 {
			t.Errorf("attributes = %+v", b.Attributes)
		}
		if len(b.Nodes) != 3 {
			t.Errorf("nodes = %d, want 3", len(b.Nodes))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestImportIdempotent(t *testing.T) {
	store := memstore.New()
	input := []Input{BytesInput("squares.osm", []byte(twoSquares))}

	if _, err := newImporter(store, "32202", nil).Run(context.Background(), input); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := mustStats(t, store)
	ident1, _ := store.LoadIdentity(context.Background())

	stats, err := newImporter(store, "32202", nil).Run(context.Background(), input)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := mustStats(t, store)

	if first.Buildings != second.Buildings || first.Nodes != second.Nodes {
		t.Errorf("counts changed: %d/%d -> %d/%d", first.Buildings, first.Nodes, second.Buildings, second.Nodes)
	}
	if stats.Batch.BuildingsDeleted != 2 {
		t.Errorf("deleted = %d, want 2", stats.Batch.BuildingsDeleted)
	}
	if stats.Canon.NodesMinted != 0 {
		t.Errorf("second run minted %d nodes, want 0", stats.Canon.NodesMinted)
	}

	ident2, _ := store.LoadIdentity(context.Background())
	for key, id := range ident1.Coords {
		if ident2.Coords[key] != id {
			t.Errorf("coordinate %s moved from %d to %d", key, id, ident2.Coords[key])
		}
	}
}

func TestImportSharedVertices(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(),
		[]Input{BytesInput("squares.osm", []byte(twoSquares))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Canon.NodesMinted != 6 {
		t.Errorf("minted = %d, want 6", stats.Canon.NodesMinted)
	}
	if stats.Batch.NodesWritten != 6 || stats.Batch.NodesRepeated != 2 {
		t.Errorf("batch = %+v, want 6 written 2 repeated", stats.Batch)
	}
	if st := mustStats(t, store); st.Nodes != 6 {
		t.Errorf("store nodes = %d, want 6", st.Nodes)
	}
}

// originA and originB are separate documents whose first vertex is (0,0)
const originA = `<osm version="0.6">
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="0" lon="0.001"/>
  <node id="3" lat="0.001" lon="0.001"/>
  <way id="10"><nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="1"/><tag k="building" v="yes"/></way>
</osm>`

const originB = `<osm version="0.6">
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="0" lon="-0.001"/>
  <node id="3" lat="-0.001" lon="0"/>
  <way id="10"><nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="1"/><tag k="building" v="yes"/></way>
</osm>`

func TestImportSharedOriginAcrossDocuments(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(), []Input{
		BytesInput("east.osm", []byte(originA)),
		BytesInput("west.osm", []byte(originB)),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Canon.Accepted != 2 {
		t.Fatalf("accepted = %d, want 2", stats.Canon.Accepted)
	}
	if stats.Batch.NodesWritten != 5 || stats.Batch.NodesRepeated != 1 {
		t.Errorf("batch = %+v, want 5 written 1 repeated", stats.Batch)
	}
	if st := mustStats(t, store); st.Buildings != 2 || st.Nodes != 5 {
		t.Errorf("store = %d buildings %d nodes, want 2 and 5", st.Buildings, st.Nodes)
	}

	ident, err := store.LoadIdentity(context.Background())
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	origin, ok := ident.Coords[canon.CoordKey(0, 0)]
	if !ok {
		t.Fatal("no node stored for (0,0)")
	}
	if origin >= 0 {
		t.Errorf("origin id = %d, want negative", origin)
	}

	var rings [][]int64
	err = store.ScanBuildings(context.Background(), "", func(b *building.Building) error {
		rings = append(rings, b.Ring)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanBuildings: %v", err)
	}
	if len(rings) != 2 {
		t.Fatalf("scanned %d buildings, want 2", len(rings))
	}
	for i, ring := range rings {
		if len(ring) != 3 {
			t.Errorf("building %d ring = %v, want 3 vertices", i, ring)
			continue
		}
		if ring[0] != origin {
			t.Errorf("building %d ring = %v, want %d first", i, ring, origin)
		}
		for _, id := range ring[1:] {
			if id == origin {
				t.Errorf("building %d repeats the origin: %v", i, ring)
			}
		}
	}
	if rings[0][1] == rings[1][1] || rings[0][2] == rings[1][2] {
		t.Errorf("rings share more than the origin: %v", rings)
	}
}

func TestImportDuplicateWays(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(),
		[]Input{BytesInput("dup.osm", []byte(duplicateWays))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Canon.Accepted != 1 || stats.Canon.Duplicates != 1 {
		t.Errorf("canon = %+v, want 1 accepted 1 duplicate", stats.Canon)
	}
	if st := mustStats(t, store); st.Buildings != 1 || st.Nodes != 4 {
		t.Errorf("store = %d buildings %d nodes", st.Buildings, st.Nodes)
	}
}

func TestImportDuplicatesAcrossDocuments(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(), []Input{
		BytesInput("one.osm", []byte(triangleDoc)),
		BytesInput("two.osm", []byte(triangleDoc)),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Canon.Accepted != 1 || stats.Canon.Duplicates != 1 {
		t.Errorf("canon = %+v", stats.Canon)
	}
}

func TestImportSkipsMalformed(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(), []Input{
		BytesInput("bad.osm", []byte(malformedDoc)),
		BytesInput("tri.osm", []byte(triangleDoc)),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Documents != 2 || stats.FailedDocuments != 1 {
		t.Errorf("documents = %d failed = %d", stats.Documents, stats.FailedDocuments)
	}
	if st := mustStats(t, store); st.Buildings != 1 {
		t.Errorf("buildings = %d, want 1", st.Buildings)
	}
}

func TestImportNothingToCommit(t *testing.T) {
	store := memstore.New()
	stats, err := newImporter(store, "a", nil).Run(context.Background(),
		[]Input{BytesInput("bad.osm", []byte(malformedDoc))})
	if !errors.Is(err, ErrNoBuildings) {
		t.Fatalf("err = %v, want ErrNoBuildings", err)
	}
	if stats.Committed {
		t.Error("empty run reported a commit")
	}
	if st := mustStats(t, store); st.Buildings != 0 || st.Nodes != 0 {
		t.Errorf("store changed: %+v", st)
	}
}

func TestImportKeepsOtherOrigins(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	if _, err := newImporter(store, "a", nil).Run(ctx, []Input{BytesInput("tri.osm", []byte(triangleDoc))}); err != nil {
		t.Fatal(err)
	}
	if _, err := newImporter(store, "b", nil).Run(ctx, []Input{BytesInput("squares.osm", []byte(twoSquares))}); err != nil {
		t.Fatal(err)
	}
	if _, err := newImporter(store, "a", nil).Run(ctx, []Input{BytesInput("tri.osm", []byte(triangleDoc))}); err != nil {
		t.Fatal(err)
	}
	if st := mustStats(t, store); st.Buildings != 3 {
		t.Errorf("buildings = %d, want 3", st.Buildings)
	}
}

type flakyStore struct {
	*memstore.Store
	identityErr error
	writeErr    error
}

func (s *flakyStore) LoadIdentity(ctx context.Context) (*building.Identity, error) {
	if s.identityErr != nil {
		return nil, s.identityErr
	}
	return s.Store.LoadIdentity(ctx)
}

func (s *flakyStore) WriteBatch(ctx context.Context, b *building.Batch) (*building.BatchResult, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return s.Store.WriteBatch(ctx, b)
}

func TestImportStoreFailures(t *testing.T) {
	input := []Input{BytesInput("tri.osm", []byte(triangleDoc))}

	t.Run("identity load falls back", func(t *testing.T) {
		store := &flakyStore{Store: memstore.New(), identityErr: fmt.Errorf("connection refused")}
		stats, err := newImporter(store, "a", nil).Run(context.Background(), input)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !stats.SeedFailed || !stats.Committed {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("write failure aborts", func(t *testing.T) {
		store := &flakyStore{Store: memstore.New(), writeErr: fmt.Errorf("deadlock detected")}
		stats, err := newImporter(store, "a", nil).Run(context.Background(), input)
		if err == nil || !strings.Contains(err.Error(), "deadlock") {
			t.Fatalf("err = %v", err)
		}
		if stats.Committed {
			t.Error("failed batch reported a commit")
		}
		if st, _ := store.Stats(context.Background()); st.Buildings != 0 {
			t.Errorf("buildings = %d, want 0", st.Buildings)
		}
	})
}

func TestImportSeedsFromStore(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	if _, err := newImporter(store, "a", nil).Run(ctx, []Input{BytesInput("tri.osm", []byte(triangleDoc))}); err != nil {
		t.Fatal(err)
	}

	stats, err := newImporter(store, "b", nil).Run(ctx, []Input{BytesInput("squares.osm", []byte(twoSquares))})
	if err != nil {
		t.Fatal(err)
	}
	// (35.0,133.0) and (35.0,133.001) already exist
	if stats.Canon.NodesMinted != 4 {
		t.Errorf("minted = %d, want 4", stats.Canon.NodesMinted)
	}

	ident, _ := store.LoadIdentity(ctx)
	if got := ident.Coords[canon.CoordKey(35.0, 133.0)]; got != -1 {
		t.Errorf("shared coordinate id = %d, want -1", got)
	}
	if ident.MinNodeID != -7 {
		t.Errorf("min node id = %d, want -7", ident.MinNodeID)
	}
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.osm", "a.osm.gz", "c.pbf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	inputs, err := CollectInputs([]string{dir})
	if err != nil {
		t.Fatalf("CollectInputs: %v", err)
	}
	var names []string
	for _, in := range inputs {
		names = append(names, filepath.Base(in.Name))
	}
	if got := strings.Join(names, ","); got != "a.osm.gz,b.osm,c.pbf" {
		t.Errorf("inputs = %s", got)
	}

	if _, err := CollectInputs([]string{filepath.Join(dir, "missing.osm")}); err == nil {
		t.Error("expected error for missing path")
	}
}
