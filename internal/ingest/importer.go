package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/canon"
	"github.com/wegman-software/footprints/internal/expire"
)

// Store is the persistence surface an import run needs
type Store interface {
	LoadIdentity(ctx context.Context) (*building.Identity, error)
	CleanupOrphans(ctx context.Context) (int64, error)
	WriteBatch(ctx context.Context, batch *building.Batch) (*building.BatchResult, error)
}

// Input is one document to import
type Input struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileInput reads a file from disk
func FileInput(path string) Input {
	return Input{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesInput reads an in-memory document
func BytesInput(name string, data []byte) Input {
	return Input{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// CollectInputs expands paths into inputs. Directories are walked for
// .osm, .xml and .pbf files, optionally gzipped, in lexical order.
func CollectInputs(paths []string) ([]Input, error) {
	var inputs []Input
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat input: %w", err)
		}
		if !info.IsDir() {
			inputs = append(inputs, FileInput(p))
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isDocument(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
		sort.Strings(found)
		for _, f := range found {
			inputs = append(inputs, FileInput(f))
		}
	}
	return inputs, nil
}

func isDocument(path string) bool {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	for _, ext := range []string{".osm", ".xml", ".pbf"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Options configures an import run
type Options struct {
	// Origin scopes the batch; every label under it is replaced
	Origin string
	// Expire collects tiles touched by written footprints, may be nil
	Expire *expire.Tracker
	// SkipCleanup disables the orphan sweep before the batch
	SkipCleanup bool
}

// Stats summarizes one import run
type Stats struct {
	Documents       int
	FailedDocuments int
	Parse           DocumentStats
	Canon           canon.Stats
	SeedFailed      bool
	OrphansRemoved  int64
	Batch           building.BatchResult
	Committed       bool
	Duration        time.Duration
}

// ErrNoBuildings is returned when a run produces nothing to commit. The
// store is left unchanged.
var ErrNoBuildings = errors.New("no buildings to import")

// Importer runs sequential import runs against a store
type Importer struct {
	store  Store
	parser *Parser
	opts   Options
	log    *zap.Logger

	docsDone atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
}

// NewImporter creates an importer
func NewImporter(store Store, parser *Parser, opts Options, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{store: store, parser: parser, opts: opts, log: log}
}

// Progress reports counters for the metrics sampler. Safe to call from
// other goroutines while Run is active.
func (im *Importer) Progress() []zap.Field {
	return []zap.Field{
		zap.Int64("documents", im.docsDone.Load()),
		zap.Int64("accepted", im.accepted.Load()),
		zap.Int64("rejected", im.rejected.Load()),
	}
}

// Run imports all inputs as one batch. Malformed documents are logged and
// skipped; a failed identity seed falls back to default counters; a store
// failure aborts the run with nothing committed.
func (im *Importer) Run(ctx context.Context, inputs []Input) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	ident, err := im.store.LoadIdentity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		im.log.Warn("Failed to load identity state, using default counters", zap.Error(err))
		stats.SeedFailed = true
		ident = nil
	}
	c := canon.Seeded(ident)
	if ident != nil {
		im.log.Info("Loaded identity state",
			zap.Int64("max_building_id", ident.MaxBuildingID),
			zap.Int64("min_node_id", ident.MinNodeID),
			zap.Int("coordinates", len(ident.Coords)),
		)
	}

	batch := &building.Batch{Scope: im.opts.Origin}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Documents++

		doc, err := im.parser.ParseInput(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedDocuments++
			im.log.Warn("Skipping malformed document", zap.String("input", in.Name), zap.Error(err))
			im.docsDone.Add(1)
			continue
		}
		stats.Parse.add(doc.Stats)

		label := building.Label(im.opts.Origin, doc.Name)
		before := c.Stats()
		for _, w := range doc.Ways {
			b, nodes, decision := c.Accept(candidate(w, doc.Nodes, label))
			if decision != canon.Accepted {
				im.rejected.Add(1)
				im.log.Debug("Rejected way", zap.Int64("way", w.ID), zap.Stringer("reason", decision))
				continue
			}
			im.accepted.Add(1)
			batch.Buildings = append(batch.Buildings, *b)
			batch.Nodes = append(batch.Nodes, nodes...)
		}
		after := c.Stats()
		im.docsDone.Add(1)

		im.log.Info("Parsed document",
			zap.String("input", doc.Name),
			zap.Int("nodes", doc.Stats.Nodes),
			zap.Int("nodes_out_of_bounds", doc.Stats.NodesOutOfBounds),
			zap.Int("ways", doc.Stats.Ways),
			zap.Int("accepted", after.Accepted-before.Accepted),
			zap.Int("duplicates", after.Duplicates-before.Duplicates),
			zap.Int("degenerate", after.Degenerate-before.Degenerate),
		)
	}
	stats.Canon = c.Stats()

	if len(batch.Buildings) == 0 {
		stats.Duration = time.Since(start)
		return stats, ErrNoBuildings
	}

	if !im.opts.SkipCleanup {
		removed, err := im.store.CleanupOrphans(ctx)
		if err != nil {
			im.log.Warn("Orphan cleanup failed", zap.Error(err))
		} else {
			stats.OrphansRemoved = removed
		}
	}

	res, err := im.store.WriteBatch(ctx, batch)
	if err != nil {
		stats.Duration = time.Since(start)
		return stats, fmt.Errorf("failed to write batch: %w", err)
	}
	stats.Batch = *res
	stats.Committed = true

	if im.opts.Expire != nil {
		for i := range batch.Buildings {
			im.opts.Expire.ExpirePolygon(batch.Buildings[i].Polygon)
		}
	}

	stats.Duration = time.Since(start)
	im.log.Info("Import batch committed",
		zap.String("origin", im.opts.Origin),
		zap.Int64("buildings_deleted", res.BuildingsDeleted),
		zap.Int64("buildings_written", res.BuildingsWritten),
		zap.Int64("nodes_written", res.NodesWritten),
		zap.Int64("nodes_orphaned", res.NodesOrphaned),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// candidate resolves way refs to coordinates
func candidate(w RawWay, nodes map[int64]Coord, label string) canon.Candidate {
	vertices := make([]orb.Point, 0, len(w.Refs))
	for _, ref := range w.Refs {
		if c, ok := nodes[ref]; ok {
			vertices = append(vertices, orb.Point{c.Lon, c.Lat})
		}
	}
	return canon.Candidate{
		WayRef:   w.ID,
		Category: w.Category,
		Tags:     w.Tags,
		Source:   label,
		Vertices: vertices,
	}
}
