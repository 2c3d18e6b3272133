package query

import (
	"context"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/building"
	"github.com/wegman-software/footprints/internal/render"
)

// Finder runs the spatial predicate against a store. Returned buildings
// are in result order and carry their ring nodes.
type Finder interface {
	FindBuildings(ctx context.Context, req Request) ([]building.Building, error)
}

// Response is a rendered query result
type Response struct {
	Document []byte
	Count    int
	Matched  int
	Fallback bool
	Elapsed  time.Duration
	// Digest identifies the document content, see render.Result
	Digest   xxh3.Uint128
}

// Engine answers bounding-box queries with OSM XML documents
type Engine struct {
	finder Finder
	codec  *render.Codec
	log    *zap.Logger
}

// NewEngine creates an engine over a store and a codec
func NewEngine(finder Finder, codec *render.Codec, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{finder: finder, codec: codec, log: log}
}

// Query validates the request, runs it and renders the result. A store
// failure is returned as an error together with the fallback document.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	buildings, err := e.finder.FindBuildings(ctx, req)
	if err != nil {
		return &Response{Document: e.codec.Fallback(), Fallback: true, Elapsed: time.Since(start)},
			fmt.Errorf("failed to query buildings: %w", err)
	}

	res := e.codec.Render(buildings)
	resp := &Response{
		Document: res.Document,
		Count:    res.Buildings,
		Matched:  len(buildings),
		Fallback: res.Fallback,
		Elapsed:  time.Since(start),
		Digest:   res.Digest,
	}

	e.log.Debug("Query complete",
		zap.String("bbox", req.String()),
		zap.Stringer("mode", req.Mode),
		zap.Int("limit", req.Limit),
		zap.Int("matched", resp.Matched),
		zap.Int("rendered", resp.Count),
		zap.Bool("fallback", resp.Fallback),
		zap.Duration("elapsed", resp.Elapsed),
	)
	return resp, nil
}
