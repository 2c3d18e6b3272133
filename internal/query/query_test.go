package query_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/memstore"
	"github.com/wegman-software/footprints/internal/query"
	"github.com/wegman-software/footprints/internal/render"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		want    query.Request
	}{
		{in: "133,35,133.01,35.01", want: query.Request{MinLon: 133, MinLat: 35, MaxLon: 133.01, MaxLat: 35.01, Limit: query.DefaultLimit}},
		{in: " 133 , 35 , 134 , 36 ", want: query.Request{MinLon: 133, MinLat: 35, MaxLon: 134, MaxLat: 36, Limit: query.DefaultLimit}},
		{in: "133,35,134", wantErr: true},
		{in: "133,35,134,36,1", wantErr: true},
		{in: "a,35,134,36", wantErr: true},
		{in: "133,35,NaN,36", wantErr: true},
		{in: "134,35,133,36", wantErr: true},
		{in: "133,36,134,36", wantErr: true},
		{in: "-181,35,134,36", wantErr: true},
		{in: "133,-91,134,36", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := query.ParseBBox(tt.in)
			if tt.wantErr {
				if !errors.Is(err, query.ErrInvalidBBox) {
					t.Fatalf("err = %v, want ErrInvalidBBox", err)
				}
				var reqErr *query.RequestError
				if !errors.As(err, &reqErr) || reqErr.Field != "bbox" {
					t.Errorf("err = %#v, want RequestError on bbox", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBBox: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, query.DefaultLimit},
		{-5, 1},
		{1, 1},
		{250, 250},
		{query.MaxLimit, query.MaxLimit},
		{query.MaxLimit + 1, query.MaxLimit},
	}
	for _, tt := range tests {
		if got := query.ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewRequest(t *testing.T) {
	r, err := query.NewRequest("133,35,134,36", 20, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Mode != query.ModeCentroid || r.Limit != 20 {
		t.Errorf("request = %+v", r)
	}
	if r.Center() != (orb.Point{133.5, 35.5}) {
		t.Errorf("center = %v", r.Center())
	}
	if r.String() != "133,35,134,36" {
		t.Errorf("String = %q", r.String())
	}

	r, _ = query.NewRequest("133,35,134,36", 0, true)
	if r.Mode != query.ModeIntersects || r.Limit != query.DefaultLimit {
		t.Errorf("request = %+v", r)
	}

	bad := query.Request{MinLon: 133, MinLat: 35, MaxLon: 134, MaxLat: 36, Limit: 0}
	var reqErr *query.RequestError
	if err := bad.Validate(); !errors.As(err, &reqErr) || reqErr.Field != "limit" {
		t.Errorf("Validate = %v, want limit error", err)
	}
}

func triangle(id int64, lon, lat float64, firstNode int64) (building.Building, []building.Node) {
	pts := []orb.Point{{lon, lat}, {lon + 0.001, lat}, {lon + 0.0005, lat + 0.001}}
	h := 12.5
	b := building.Building{
		ID:         id,
		Source:     "test_tri.osm",
		Attributes: building.Attributes{Category: "house", Height: &h},
		Polygon:    orb.Polygon{orb.Ring{pts[0], pts[1], pts[2], pts[0]}},
	}
	b.Centroid, _ = planar.CentroidArea(b.Polygon)
	nodes := make([]building.Node, len(pts))
	for i, p := range pts {
		nid := firstNode - int64(i)
		b.Ring = append(b.Ring, nid)
		nodes[i] = building.Node{ID: nid, BuildingID: id, Seq: i, Lat: p[1], Lon: p[0]}
	}
	return b, nodes
}

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	batch := &building.Batch{Scope: "test"}
	for i, origin := range []orb.Point{{133.0, 35.0}, {133.01, 35.01}, {140, 40}} {
		b, nodes := triangle(int64(i+1), origin[0], origin[1], int64(-3*i-1))
		batch.Buildings = append(batch.Buildings, b)
		batch.Nodes = append(batch.Nodes, nodes...)
	}
	if _, err := s.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEngineQuery(t *testing.T) {
	engine := query.NewEngine(seededStore(t), render.NewCodec(render.DefaultOptions(), nil), nil)

	req, err := query.NewRequest("132.99,34.99,133.02,35.02", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := engine.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Fallback || resp.Count != 2 || resp.Matched != 2 {
		t.Fatalf("response = %+v", resp)
	}

	doc, err := render.Verify(resp.Document)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(doc.Ways) != 2 || len(doc.Nodes) != 6 {
		t.Errorf("document has %d ways %d nodes", len(doc.Ways), len(doc.Nodes))
	}
	if doc.Ways[0].ID != -1 || doc.Ways[1].ID != -2 {
		t.Errorf("way ids = %d, %d", doc.Ways[0].ID, doc.Ways[1].ID)
	}
	for _, w := range doc.Ways {
		if len(w.Nodes) != 4 {
			t.Errorf("way %d has %d refs, want 4", w.ID, len(w.Nodes))
		}
		if w.Tags.Find("height") != "12.5" || w.Tags.Find("building") != "house" {
			t.Errorf("way %d tags = %v", w.ID, w.Tags)
		}
	}

	req.Limit = 1
	req.Mode = query.ModeCentroid
	resp, err = engine.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 {
		t.Errorf("limited count = %d, want 1", resp.Count)
	}
}

func TestEngineEmpty(t *testing.T) {
	engine := query.NewEngine(memstore.New(), render.NewCodec(render.DefaultOptions(), nil), nil)
	req, _ := query.NewRequest("0,0,1,1", 10, true)

	resp, err := engine.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 || resp.Fallback {
		t.Errorf("response = %+v", resp)
	}
	if _, err := render.Verify(resp.Document); err != nil {
		t.Errorf("empty document does not parse: %v", err)
	}
}

type failingFinder struct{}

func (failingFinder) FindBuildings(context.Context, query.Request) ([]building.Building, error) {
	return nil, fmt.Errorf("connection reset")
}

func TestEngineStoreFailure(t *testing.T) {
	codec := render.NewCodec(render.DefaultOptions(), nil)
	engine := query.NewEngine(failingFinder{}, codec, nil)
	req, _ := query.NewRequest("133,35,134,36", 10, true)

	resp, err := engine.Query(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if resp == nil || !resp.Fallback || !bytes.Equal(resp.Document, codec.Fallback()) {
		t.Fatalf("response = %+v, want fallback document", resp)
	}
	if _, err := render.Verify(resp.Document); err != nil {
		t.Errorf("fallback does not parse: %v", err)
	}
}

func TestEngineRejectsInvalidRequest(t *testing.T) {
	engine := query.NewEngine(memstore.New(), render.NewCodec(render.DefaultOptions(), nil), nil)
	_, err := engine.Query(context.Background(), query.Request{MinLon: 1, MinLat: 1, MaxLon: 0, MaxLat: 2, Limit: 1})
	if !errors.Is(err, query.ErrInvalidBBox) {
		t.Errorf("err = %v, want ErrInvalidBBox", err)
	}
}
