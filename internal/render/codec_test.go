package render

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/wegman-software/footprints/internal/building"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("JST", 9*3600)) }

func testCodec() *Codec {
	return NewCodec(Options{
		Copyright:   "test data",
		Attribution: "https://example.org/attribution",
		License:     "CC-BY-4.0",
		Source:      "test",
		Now:         fixedNow,
	}, nil)
}

func node(row int64, lat, lon float64) building.Node {
	return building.Node{ID: -row, RowID: row, Lat: lat, Lon: lon}
}

func TestRenderTriangle(t *testing.T) {
	h := 12.5
	b := building.Building{
		ID:         7,
		Attributes: building.Attributes{Category: "house", Height: &h},
		Nodes: []building.Node{
			node(1, 35.0, 133.0),
			node(2, 35.0, 133.001),
			node(3, 35.001, 133.0005),
		},
	}

	res := testCodec().Render([]building.Building{b})
	if res.Fallback {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	if res.Buildings != 1 || res.Nodes != 3 {
		t.Errorf("counts = %d buildings %d nodes, want 1 and 3", res.Buildings, res.Nodes)
	}

	parsed, err := Verify(res.Document)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(parsed.Ways) != 1 || len(parsed.Nodes) != 3 {
		t.Fatalf("parsed %d ways %d nodes", len(parsed.Ways), len(parsed.Nodes))
	}
	way := parsed.Ways[0]
	if way.ID != -7 {
		t.Errorf("way id = %d, want -7", way.ID)
	}
	if len(way.Nodes) != 4 || way.Nodes[0].ID != way.Nodes[3].ID {
		t.Errorf("ring not closed: %v", way.Nodes)
	}
	if way.Nodes[0].ID != -1 {
		t.Errorf("first ref = %d, want -1", way.Nodes[0].ID)
	}
	if got := way.Tags.Find("building"); got != "house" {
		t.Errorf("building tag = %q, want house", got)
	}
	if got := way.Tags.Find("height"); got != "12.5" {
		t.Errorf("height tag = %q, want 12.5", got)
	}
	if got := way.Tags.Find("source"); got != "test" {
		t.Errorf("source tag = %q, want test", got)
	}

	doc := string(res.Document)
	for _, want := range []string{
		`lat="35.0000000"`,
		`lon="133.0005000"`,
		`timestamp="2024-01-15T03:00:00Z"`,
		`generator="footprints"`,
		`license="CC-BY-4.0"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %s", want)
		}
	}
	if strings.Index(doc, "<node") > strings.Index(doc, "<way") {
		t.Error("nodes must precede ways")
	}
}

func TestRenderEmpty(t *testing.T) {
	res := testCodec().Render(nil)
	if res.Fallback {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	parsed, err := Verify(res.Document)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(parsed.Nodes) != 0 || len(parsed.Ways) != 0 {
		t.Errorf("expected empty document, got %d nodes %d ways", len(parsed.Nodes), len(parsed.Ways))
	}
	if parsed.Version != "0.6" {
		t.Errorf("version = %q", parsed.Version)
	}
}

func TestRenderSharedNode(t *testing.T) {
	shared := node(1, 0, 0)
	a := building.Building{ID: 1, Nodes: []building.Node{shared, node(2, 0, 0.001), node(3, 0.001, 0.001), node(4, 0.001, 0)}}
	b := building.Building{ID: 2, Nodes: []building.Node{shared, node(4, 0.001, 0), node(5, 0.001, -0.001), node(6, 0, -0.001)}}

	res := testCodec().Render([]building.Building{a, b})
	if res.Fallback {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	if res.Nodes != 6 {
		t.Errorf("expected 6 distinct nodes, got %d", res.Nodes)
	}
	if n := strings.Count(string(res.Document), `<node id="-1"`); n != 1 {
		t.Errorf("shared node emitted %d times", n)
	}

	parsed, _ := Verify(res.Document)
	for _, w := range parsed.Ways {
		if w.Nodes[0].ID != -1 {
			t.Errorf("way %d does not start at the shared node", w.ID)
		}
	}
}

func TestRenderRingHandling(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []building.Node
		wantWays int
		wantRefs int
	}{
		{
			name:     "closing vertex dropped then re-closed",
			nodes:    []building.Node{node(1, 35, 133), node(2, 35, 133.001), node(3, 35.001, 133.001), node(4, 35.00000001, 133)},
			wantWays: 1,
			wantRefs: 4,
		},
		{
			name:     "invalid nodes ignored",
			nodes:    []building.Node{node(1, 35, 133), {RowID: 0}, node(2, 35, 133.001), node(3, 95, 133), node(4, 35.001, 133.001)},
			wantWays: 1,
			wantRefs: 4,
		},
		{
			name:     "fewer than three valid nodes skipped",
			nodes:    []building.Node{node(1, 35, 133), node(2, 35, 133.001), node(3, 35, 133)},
			wantWays: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testCodec().Render([]building.Building{{ID: 1, Nodes: tt.nodes}})
			if res.Fallback {
				t.Fatalf("unexpected fallback: %v", res.Err)
			}
			parsed, err := Verify(res.Document)
			if err != nil {
				t.Fatal(err)
			}
			if len(parsed.Ways) != tt.wantWays {
				t.Fatalf("ways = %d, want %d", len(parsed.Ways), tt.wantWays)
			}
			if tt.wantWays == 0 {
				if res.Skipped != 1 {
					t.Errorf("Skipped = %d, want 1", res.Skipped)
				}
				return
			}
			if got := len(parsed.Ways[0].Nodes); got != tt.wantRefs {
				t.Errorf("refs = %d, want %d", got, tt.wantRefs)
			}
		})
	}
}

func TestRenderEscapesText(t *testing.T) {
	b := building.Building{
		ID: 1,
		Attributes: building.Attributes{
			Category: "yes",
			Name:     "A & B <\"shop\">\x01",
			Street:   "Hall\x01A",
		},
		Nodes: []building.Node{node(1, 35, 133), node(2, 35, 133.001), node(3, 35.001, 133.001)},
	}
	c := NewCodec(Options{User: "edit\x02or", Source: "test", Now: fixedNow}, nil)
	res := c.Render([]building.Building{b})
	if res.Fallback {
		t.Fatalf("unexpected fallback: %v", res.Err)
	}
	parsed, err := Verify(res.Document)
	if err != nil {
		t.Fatal(err)
	}
	tags := parsed.Ways[0].Tags
	if name := tags.Find("name"); name != "A & B <\"shop\">" {
		t.Errorf("name round-tripped as %q", name)
	}
	if street := tags.Find("addr:street"); street != "HallA" {
		t.Errorf("addr:street round-tripped as %q", street)
	}
	if user := parsed.Ways[0].User; user != "editor" {
		t.Errorf("user round-tripped as %q", user)
	}
	if bytes.ContainsRune(res.Document, '\uFFFD') {
		t.Error("document contains replacement characters")
	}
}

func TestTagsBlankValues(t *testing.T) {
	tests := []struct {
		name     string
		attrs    building.Attributes
		building string
		omitted  []string
	}{
		{"blank category", building.Attributes{Category: "  "}, "yes", nil},
		{"padded category", building.Attributes{Category: " house "}, "house", nil},
		{"blank text", building.Attributes{Category: "house", Name: " \t", Shop: "\x01"}, "house", []string{"name", "shop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := Tags(tt.attrs, " ")
			if got := tags.Find("building"); got != tt.building {
				t.Errorf("building = %q, want %q", got, tt.building)
			}
			if tags.HasTag("source") {
				t.Error("blank source was emitted")
			}
			for _, k := range tt.omitted {
				if tags.HasTag(k) {
					t.Errorf("%s = %q, want omitted", k, tags.Find(k))
				}
			}
		})
	}
}

func TestRenderDigest(t *testing.T) {
	tri := func(lon float64) []building.Building {
		return []building.Building{{
			ID:         1,
			Attributes: building.Attributes{Category: "house"},
			Nodes:      []building.Node{node(1, 35, 133), node(2, 35, lon), node(3, 35.001, 133.001)},
		}}
	}
	later := NewCodec(Options{
		Copyright:   "test data",
		Attribution: "https://example.org/attribution",
		License:     "CC-BY-4.0",
		Source:      "test",
		Now:         func() time.Time { return fixedNow().Add(time.Hour) },
	}, nil)

	a := testCodec().Render(tri(133.001))
	b := later.Render(tri(133.001))
	if bytes.Equal(a.Document, b.Document) {
		t.Fatal("documents should differ by timestamp")
	}
	if a.Digest != b.Digest {
		t.Error("digest depends on render time")
	}
	if c := testCodec().Render(tri(133.002)); c.Digest == a.Digest {
		t.Error("digest ignores a moved vertex")
	}
	if e := testCodec().Render(nil); e.Digest == a.Digest {
		t.Error("empty document shares a digest")
	}
}

func TestRenderFallback(t *testing.T) {
	c := NewCodec(Options{Now: func() time.Time { panic("clock failure") }}, nil)
	res := c.Render([]building.Building{{ID: 1}})
	if !res.Fallback || res.Err == nil {
		t.Fatal("expected fallback with error")
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<osm version="0.6" generator="footprints-fallback"></osm>`
	if string(res.Document) != want {
		t.Errorf("fallback = %q", res.Document)
	}
	if err := xml.Unmarshal(res.Document, new(struct{})); err != nil {
		t.Errorf("fallback does not parse: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	in := []byte("\xef\xbb\xbf<osm>\x00a\x08b\tc\nd\x0b\x0c\x1fe\x7f</osm>")
	got := Sanitize(in)
	if !bytes.Equal(got, []byte("<osm>ab\tc\nde</osm>")) {
		t.Errorf("Sanitize = %q", got)
	}
}
