package expire

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/logger"
)

// Tracker collects tiles touched by imported footprints, for cache purges
type Tracker struct {
	mu      sync.Mutex
	tiles   map[maptile.Tile]struct{}
	minZoom int
	maxZoom int
}

// NewTracker creates a tracker for a zoom range
func NewTracker(minZoom, maxZoom int) *Tracker {
	return &Tracker{
		tiles:   make(map[maptile.Tile]struct{}),
		minZoom: minZoom,
		maxZoom: maxZoom,
	}
}

// ExpireBound marks tiles intersecting a bound
func (t *Tracker) ExpireBound(b orb.Bound) {
	if t == nil {
		return
	}
	tiles := AffectedTiles(b, t.minZoom, t.maxZoom)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tile := range tiles {
		t.tiles[tile] = struct{}{}
	}
}

// ExpirePolygon marks tiles under a footprint's bounding box
func (t *Tracker) ExpirePolygon(p orb.Polygon) {
	if t == nil || len(p) == 0 || len(p[0]) == 0 {
		return
	}
	t.ExpireBound(p.Bound())
}

// Count returns the number of unique expired tiles
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tiles)
}

// CountByZoom returns the count of tiles at each zoom level
func (t *Tracker) CountByZoom() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[int]int)
	for tile := range t.tiles {
		counts[int(tile.Z)]++
	}
	return counts
}

// Tiles returns all expired tiles sorted by zoom, x, y
func (t *Tracker) Tiles() []maptile.Tile {
	t.mu.Lock()
	tiles := make([]maptile.Tile, 0, len(t.tiles))
	for tile := range t.tiles {
		tiles = append(tiles, tile)
	}
	t.mu.Unlock()

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Z != tiles[j].Z {
			return tiles[i].Z < tiles[j].Z
		}
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
	return tiles
}

// WriteToFile writes expired tiles to a file in z/x/y format
func (t *Tracker) WriteToFile(filename string) error {
	log := logger.Get()

	tiles := t.Tiles()
	if len(tiles) == 0 {
		log.Info("No tiles to expire")
		return nil
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create expire file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, tile := range tiles {
		fmt.Fprintln(w, FormatTile(tile))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write expire file: %w", err)
	}

	counts := t.CountByZoom()
	zooms := make([]int, 0, len(counts))
	for z := range counts {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	fields := []zap.Field{zap.String("file", filename)}
	for _, z := range zooms {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), counts[z]))
	}
	fields = append(fields, zap.Int("total", len(tiles)))
	log.Info("Wrote expire tiles", fields...)

	return nil
}
