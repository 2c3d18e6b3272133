package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/wegman-software/footprints/internal/config"
	"github.com/wegman-software/footprints/internal/style"
)

// Format is the encoding of an input document
type Format int

const (
	FormatXML Format = iota
	FormatPBF
)

func (f Format) String() string {
	if f == FormatPBF {
		return "pbf"
	}
	return "xml"
}

// DetectFormat infers the format from a file name. The second result
// reports a trailing .gz.
func DetectFormat(name string) (Format, bool) {
	lower := strings.ToLower(name)
	gz := strings.HasSuffix(lower, ".gz")
	lower = strings.TrimSuffix(lower, ".gz")
	if strings.HasSuffix(lower, ".pbf") {
		return FormatPBF, gz
	}
	return FormatXML, gz
}

// Coord is a node position
type Coord struct {
	Lat, Lon float64
}

// RawWay is a recognized footprint way with refs to in-bounds nodes
type RawWay struct {
	ID       int64
	Category string
	Tags     map[string]string
	Refs     []int64
}

// DocumentStats counts what one document contained
type DocumentStats struct {
	Nodes            int
	NodesOutOfBounds int
	Ways             int
	WaysIgnored      int // not a footprint category
	WaysTooFew       int // fewer than 3 usable refs
	MissingRefs      int
}

func (s *DocumentStats) add(o DocumentStats) {
	s.Nodes += o.Nodes
	s.NodesOutOfBounds += o.NodesOutOfBounds
	s.Ways += o.Ways
	s.WaysIgnored += o.WaysIgnored
	s.WaysTooFew += o.WaysTooFew
	s.MissingRefs += o.MissingRefs
}

// Document is the parsed content of one input
type Document struct {
	Name  string
	Nodes map[int64]Coord
	Ways  []RawWay
	Stats DocumentStats
}

// Parser reads OSM documents and keeps footprint ways
type Parser struct {
	bounds *config.BBox
	filter *style.Filter
}

// NewParser creates a parser. A nil bounds accepts every node and a nil
// filter uses the default building profile.
func NewParser(bounds *config.BBox, filter *style.Filter) *Parser {
	if filter == nil {
		filter = style.NewFilter(nil)
	}
	return &Parser{bounds: bounds, filter: filter}
}

// scanner is the common surface of the osmxml and osmpbf scanners
type scanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

// ParseInput opens and parses one input, decompressing .gz inputs. The
// document is named after the input's base name.
func (p *Parser) ParseInput(ctx context.Context, in Input) (*Document, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer rc.Close()

	format, gz := DetectFormat(in.Name)
	var r io.Reader = bufio.NewReaderSize(rc, 1<<20)
	if gz {
		zr, err := newGzipReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	doc, err := p.Parse(ctx, r, format)
	if err != nil {
		return nil, err
	}
	doc.Name = filepath.Base(in.Name)
	return doc, nil
}

// Parse reads a whole document. Ways are resolved after the scan so refs
// to nodes that appear later in the stream still count.
func (p *Parser) Parse(ctx context.Context, r io.Reader, format Format) (*Document, error) {
	var sc scanner
	switch format {
	case FormatPBF:
		s := osmpbf.New(ctx, r, runtime.GOMAXPROCS(0))
		s.SkipRelations = true
		sc = s
	default:
		sc = osmxml.New(ctx, r)
	}
	defer sc.Close()

	doc := &Document{Nodes: make(map[int64]Coord)}
	var ways []*osm.Way

	for sc.Scan() {
		switch obj := sc.Object().(type) {
		case *osm.Node:
			doc.Stats.Nodes++
			if !p.bounds.Contains(obj.Lat, obj.Lon) {
				doc.Stats.NodesOutOfBounds++
				continue
			}
			doc.Nodes[int64(obj.ID)] = Coord{Lat: obj.Lat, Lon: obj.Lon}
		case *osm.Way:
			doc.Stats.Ways++
			ways = append(ways, obj)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s document: %w", format, err)
	}

	for _, w := range ways {
		tags := tagMap(w.Tags)
		category, ok := p.filter.Category(tags)
		if !ok {
			doc.Stats.WaysIgnored++
			continue
		}

		refs := make([]int64, 0, len(w.Nodes))
		for _, wn := range w.Nodes {
			id := int64(wn.ID)
			if _, ok := doc.Nodes[id]; !ok {
				doc.Stats.MissingRefs++
				continue
			}
			refs = append(refs, id)
		}
		if len(refs) < 3 {
			doc.Stats.WaysTooFew++
			continue
		}

		doc.Ways = append(doc.Ways, RawWay{
			ID:       int64(w.ID),
			Category: category,
			Tags:     tags,
			Refs:     refs,
		})
	}

	return doc, nil
}

func newGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return zr, nil
}

// tagMap keeps tags with both key and value set
func tagMap(tags osm.Tags) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Key != "" && t.Value != "" {
			m[t.Key] = t.Value
		}
	}
	return m
}
