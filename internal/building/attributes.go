package building

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Attributes is the fixed tag schema carried by a footprint. Unset
// numeric values are nil; unset strings are empty.
type Attributes struct {
	Category         string
	Height           *float64
	Elevation        *float64
	Levels           *int
	Name             string
	HouseNumber      string
	Street           string
	StartDate        string
	BuildingMaterial string
	RoofMaterial     string
	RoofShape        string
	Amenity          string
	Shop             string
	Tourism          string
	Leisure          string
	Landuse          string
}

// Value ranges accepted when coercing numeric tags
const (
	MinHeight    = 0.5
	MaxHeight    = 300.0
	MinLevels    = 1
	MaxLevels    = 50
	MinElevation = -100.0
	MaxElevation = 9000.0
)

// Length caps applied to free-text tags, in runes
const (
	maxName      = 100
	maxHouseNum  = 20
	maxStreet    = 100
	maxShortText = 50
	maxStartDate = 10
)

// MapTags coerces raw source tags into the attribute schema. Tags outside
// the allow-list are ignored and values that fail to parse or fall out of
// range are left unset.
func MapTags(category string, tags map[string]string) Attributes {
	a := Attributes{Category: category}

	if v, ok := parseFloat(tags["height"]); ok && v >= MinHeight && v <= MaxHeight {
		a.Height = &v
	}
	if v, ok := parseFloat(tags["building:levels"]); ok {
		n := int(v) // truncation, "3.7" is 3 levels
		if n >= MinLevels && n <= MaxLevels {
			a.Levels = &n
		}
	}
	if v, ok := parseFloat(tags["ele"]); ok && v >= MinElevation && v <= MaxElevation {
		a.Elevation = &v
	}

	name := strings.TrimSpace(tags["name"])
	if name == "" {
		name = strings.TrimSpace(tags["name:ja"])
	}
	a.Name = truncate(name, maxName)
	a.HouseNumber = truncate(tags["addr:housenumber"], maxHouseNum)
	a.Street = truncate(tags["addr:street"], maxStreet)
	a.StartDate = truncate(tags["start_date"], maxStartDate)
	a.BuildingMaterial = truncate(tags["building:material"], maxShortText)
	a.RoofMaterial = truncate(tags["roof:material"], maxShortText)
	a.RoofShape = truncate(tags["roof:shape"], maxShortText)
	a.Amenity = truncate(tags["amenity"], maxShortText)
	a.Shop = truncate(tags["shop"], maxShortText)
	a.Tourism = truncate(tags["tourism"], maxShortText)
	a.Leisure = truncate(tags["leisure"], maxShortText)
	a.Landuse = truncate(tags["landuse"], maxShortText)

	return a
}

// AddrFull joins street and house number, or returns whichever is set
func (a Attributes) AddrFull() string {
	switch {
	case a.Street != "" && a.HouseNumber != "":
		return a.Street + " " + a.HouseNumber
	case a.Street != "":
		return a.Street
	default:
		return a.HouseNumber
	}
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
