package render

import (
	"strconv"
	"strings"

	"github.com/paulmach/osm"

	"github.com/wegman-software/footprints/internal/building"
)

// Tags returns the whitelisted attributes as OSM tags in a fixed order,
// followed by the provenance tag. Values are cleaned with cleanText and
// blank values are omitted.
func Tags(a building.Attributes, source string) osm.Tags {
	tags := make(osm.Tags, 0, 8)
	add := func(k, v string) {
		if v = cleanText(v); v != "" {
			tags = append(tags, osm.Tag{Key: k, Value: v})
		}
	}

	category := cleanText(a.Category)
	if category == "" {
		category = "yes"
	}
	add("building", category)
	if a.Height != nil {
		add("height", strconv.FormatFloat(*a.Height, 'f', -1, 64))
	}
	if a.Elevation != nil {
		add("ele", strconv.FormatFloat(*a.Elevation, 'f', -1, 64))
	}
	if a.Levels != nil {
		add("building:levels", strconv.Itoa(*a.Levels))
	}
	add("name", a.Name)
	add("addr:housenumber", a.HouseNumber)
	add("addr:street", a.Street)
	add("start_date", a.StartDate)
	add("building:material", a.BuildingMaterial)
	add("roof:material", a.RoofMaterial)
	add("roof:shape", a.RoofShape)
	add("amenity", a.Amenity)
	add("shop", a.Shop)
	add("tourism", a.Tourism)
	add("leisure", a.Leisure)
	add("landuse", a.Landuse)
	add("source", source)

	return tags
}

// cleanText removes control characters XML 1.0 cannot carry, keeping tab,
// newline and carriage return, and trims surrounding space
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == 0x7f || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
