package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Mode selects the spatial predicate of a query
type Mode int

const (
	// ModeIntersects returns footprints whose polygon intersects the box,
	// ordered by building id
	ModeIntersects Mode = iota
	// ModeCentroid returns footprints whose centroid lies inside the box,
	// one per distinct geometry, nearest to the box center first
	ModeCentroid
)

func (m Mode) String() string {
	if m == ModeCentroid {
		return "centroid"
	}
	return "intersects"
}

// Limits applied to Request.Limit
const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// ErrInvalidBBox is wrapped by every request validation error
var ErrInvalidBBox = errors.New("invalid bbox")

// RequestError describes a malformed request parameter
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *RequestError) Unwrap() error {
	return ErrInvalidBBox
}

// Request is a validated bounding-box query
type Request struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	Limit                          int
	Mode                           Mode
}

// ParseBBox parses "minlon,minlat,maxlon,maxlat" into a request with the
// default limit and intersects mode
func ParseBBox(s string) (Request, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Request{}, &RequestError{Field: "bbox", Reason: fmt.Sprintf("expected 4 coordinates, got %d", len(parts))}
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Request{}, &RequestError{Field: "bbox", Reason: fmt.Sprintf("coordinate %d (%q) is not a number", i+1, p)}
		}
		v[i] = f
	}

	r := Request{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3], Limit: DefaultLimit}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// NewRequest validates raw request parameters. A limit of zero selects
// DefaultLimit; other values are clamped to [1, MaxLimit].
func NewRequest(bbox string, limit int, useIntersects bool) (Request, error) {
	r, err := ParseBBox(bbox)
	if err != nil {
		return Request{}, err
	}
	r.Limit = ClampLimit(limit)
	if !useIntersects {
		r.Mode = ModeCentroid
	}
	return r, nil
}

// ClampLimit applies the default and the bounds to a requested limit
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Validate checks coordinate ranges and box orientation
func (r Request) Validate() error {
	if r.MinLon < -180 || r.MaxLon > 180 || r.MinLon > 180 || r.MaxLon < -180 {
		return &RequestError{Field: "bbox", Reason: "longitude must be within [-180, 180]"}
	}
	if r.MinLat < -90 || r.MaxLat > 90 || r.MinLat > 90 || r.MaxLat < -90 {
		return &RequestError{Field: "bbox", Reason: "latitude must be within [-90, 90]"}
	}
	if r.MinLon >= r.MaxLon {
		return &RequestError{Field: "bbox", Reason: "min longitude must be less than max longitude"}
	}
	if r.MinLat >= r.MaxLat {
		return &RequestError{Field: "bbox", Reason: "min latitude must be less than max latitude"}
	}
	if r.Limit < 1 || r.Limit > MaxLimit {
		return &RequestError{Field: "limit", Reason: fmt.Sprintf("must be within [1, %d]", MaxLimit)}
	}
	return nil
}

// Bound returns the box as an orb bound
func (r Request) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.MinLon, r.MinLat},
		Max: orb.Point{r.MaxLon, r.MaxLat},
	}
}

// Center returns the midpoint of the box
func (r Request) Center() orb.Point {
	return r.Bound().Center()
}

// String formats the box as ParseBBox reads it
func (r Request) String() string {
	return strconv.FormatFloat(r.MinLon, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.MinLat, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.MaxLon, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.MaxLat, 'f', -1, 64)
}
