package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/osm"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/canon"
)

const (
	Generator         = "footprints"
	FallbackGenerator = "footprints-fallback"

	osmVersion      = "0.6"
	timestampLayout = "2006-01-02T15:04:05Z"
)

// Options are the document-level attributes written on every render
type Options struct {
	Generator   string
	Copyright   string
	Attribution string
	License     string
	User        string
	UserID      int64
	// Source is the provenance tag value; empty omits the tag
	Source string
	Now    func() time.Time
}

// DefaultOptions returns the attributes used when none are configured
func DefaultOptions() Options {
	return Options{
		Generator: Generator,
		User:      Generator,
		UserID:    1,
		Source:    Generator,
		Now:       time.Now,
	}
}

// Result is the outcome of one render. Document is always a well-formed
// OSM XML document; Fallback and Err report whether it is the empty
// fallback and why.
type Result struct {
	Document  []byte
	Buildings int
	Nodes     int
	Skipped   int
	Fallback  bool
	Err       error
	// Digest covers every element id, coordinate and tag of the document
	// but not its timestamps
	Digest    xxh3.Uint128
}

// Codec renders query results as OSM XML
type Codec struct {
	opts     Options
	log      *zap.Logger
	fallback []byte
}

// NewCodec creates a codec. Zero option fields take their defaults.
func NewCodec(opts Options, log *zap.Logger) *Codec {
	def := DefaultOptions()
	opts.Generator = cleanText(opts.Generator)
	opts.Copyright = cleanText(opts.Copyright)
	opts.Attribution = cleanText(opts.Attribution)
	opts.License = cleanText(opts.License)
	opts.User = cleanText(opts.User)
	if opts.Generator == "" {
		opts.Generator = def.Generator
	}
	if opts.User == "" {
		opts.User = def.User
	}
	if opts.UserID == 0 {
		opts.UserID = def.UserID
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Codec{
		opts:     opts,
		log:      log,
		fallback: []byte(xml.Header + `<osm version="` + osmVersion + `" generator="` + FallbackGenerator + `"></osm>`),
	}
}

// Fallback returns the empty document served when rendering fails
func (c *Codec) Fallback() []byte {
	return append([]byte(nil), c.fallback...)
}

// Render builds a document from buildings in the given order. It never
// returns an error: on failure the result holds the fallback document.
func (c *Codec) Render(buildings []building.Building) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = c.failed(fmt.Errorf("render panic: %v", r))
		}
	}()

	ts := c.opts.Now().UTC().Format(timestampLayout)
	doc := document{
		Version:     osmVersion,
		Generator:   c.opts.Generator,
		Copyright:   c.opts.Copyright,
		Attribution: c.opts.Attribution,
		License:     c.opts.License,
	}

	digest := xxh3.New()
	emitted := make(map[int64]struct{})
	for i := range buildings {
		b := &buildings[i]
		ring := usableRing(b.Nodes)
		if len(ring) < 3 {
			res.Skipped++
			continue
		}

		way := wayElement{
			ID:          osm.WayID(-b.ID),
			Visible:     true,
			Version:     1,
			ChangesetID: 1,
			Timestamp:   ts,
			User:        c.opts.User,
			UserID:      osm.UserID(c.opts.UserID),
			Refs:        make([]ndElement, 0, len(ring)+1),
		}
		for _, n := range ring {
			if _, ok := emitted[n.RowID]; !ok {
				emitted[n.RowID] = struct{}{}
				lat, lon := formatCoord(n.Lat), formatCoord(n.Lon)
				digestFields(digest, "n", strconv.FormatInt(-n.RowID, 10), lat, lon)
				doc.Nodes = append(doc.Nodes, nodeElement{
					ID:          osm.NodeID(-n.RowID),
					Visible:     true,
					Version:     1,
					ChangesetID: 1,
					Timestamp:   ts,
					User:        c.opts.User,
					UserID:      osm.UserID(c.opts.UserID),
					Lat:         lat,
					Lon:         lon,
				})
			}
			way.Refs = append(way.Refs, ndElement{Ref: osm.NodeID(-n.RowID)})
		}
		way.Refs = append(way.Refs, way.Refs[0])

		digestFields(digest, "w", strconv.FormatInt(-b.ID, 10))
		for _, ref := range way.Refs {
			digestFields(digest, "r", strconv.FormatInt(int64(ref.Ref), 10))
		}
		for _, t := range Tags(b.Attributes, c.opts.Source) {
			digestFields(digest, "t", t.Key, t.Value)
			way.Tags = append(way.Tags, tagElement{Key: t.Key, Value: t.Value})
		}
		doc.Ways = append(doc.Ways, way)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return c.failed(fmt.Errorf("failed to marshal document: %w", err))
	}

	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')
	out = Sanitize(out)

	parsed, err := Verify(out)
	if err != nil {
		return c.failed(err)
	}
	if len(parsed.Nodes) != len(doc.Nodes) || len(parsed.Ways) != len(doc.Ways) {
		return c.failed(fmt.Errorf("verification mismatch: rendered %d nodes %d ways, parsed %d nodes %d ways",
			len(doc.Nodes), len(doc.Ways), len(parsed.Nodes), len(parsed.Ways)))
	}

	res.Document = out
	res.Digest = digest.Sum128()
	res.Buildings = len(doc.Ways)
	res.Nodes = len(doc.Nodes)
	return res
}

func (c *Codec) failed(err error) Result {
	c.log.Error("Rendering failed, serving fallback document", zap.Error(err))
	return Result{Document: c.Fallback(), Fallback: true, Err: err}
}

// usableRing keeps valid nodes and drops a terminal vertex that repeats
// the first one
func usableRing(nodes []building.Node) []building.Node {
	ring := make([]building.Node, 0, len(nodes))
	for _, n := range nodes {
		if validNode(n) {
			ring = append(ring, n)
		}
	}
	if len(ring) > 1 {
		first, last := ring[0], ring[len(ring)-1]
		if first.RowID == last.RowID ||
			(math.Abs(first.Lat-last.Lat) < canon.CloseEpsilon && math.Abs(first.Lon-last.Lon) < canon.CloseEpsilon) {
			ring = ring[:len(ring)-1]
		}
	}
	return ring
}

func validNode(n building.Node) bool {
	if n.RowID <= 0 {
		return false
	}
	if math.IsNaN(n.Lat) || math.IsNaN(n.Lon) {
		return false
	}
	return n.Lat >= -90 && n.Lat <= 90 && n.Lon >= -180 && n.Lon <= 180
}

// digestFields writes NUL-terminated fields so adjacent values cannot run
// together
func digestFields(h *xxh3.Hasher, fields ...string) {
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.Write([]byte{0})
	}
}

func formatCoord(v float64) string {
	return canon.FormatCoord(v)
}

// Sanitize removes a leading byte order mark and control characters that
// XML 1.0 does not allow. Tab, newline and carriage return are kept.
func Sanitize(b []byte) []byte {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0x7f || (c < 0x20 && c != '\t' && c != '\n' && c != '\r') {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Verify parses a rendered document as OSM XML
func Verify(doc []byte) (*osm.OSM, error) {
	var parsed osm.OSM
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("rendered document does not parse: %w", err)
	}
	return &parsed, nil
}
