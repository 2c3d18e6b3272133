package render

import (
	"encoding/xml"

	"github.com/paulmach/osm"
)

// document mirrors the subset of OSM XML 0.6 that editors read. Node
// coordinates are preformatted strings so they always carry seven
// decimals.
type document struct {
	XMLName     xml.Name      `xml:"osm"`
	Version     string        `xml:"version,attr"`
	Generator   string        `xml:"generator,attr"`
	Copyright   string        `xml:"copyright,attr,omitempty"`
	Attribution string        `xml:"attribution,attr,omitempty"`
	License     string        `xml:"license,attr,omitempty"`
	Nodes       []nodeElement `xml:"node"`
	Ways        []wayElement  `xml:"way"`
}

type nodeElement struct {
	ID          osm.NodeID      `xml:"id,attr"`
	Visible     bool            `xml:"visible,attr"`
	Version     int             `xml:"version,attr"`
	ChangesetID osm.ChangesetID `xml:"changeset,attr"`
	Timestamp   string          `xml:"timestamp,attr"`
	User        string          `xml:"user,attr"`
	UserID      osm.UserID      `xml:"uid,attr"`
	Lat         string          `xml:"lat,attr"`
	Lon         string          `xml:"lon,attr"`
}

type wayElement struct {
	ID          osm.WayID       `xml:"id,attr"`
	Visible     bool            `xml:"visible,attr"`
	Version     int             `xml:"version,attr"`
	ChangesetID osm.ChangesetID `xml:"changeset,attr"`
	Timestamp   string          `xml:"timestamp,attr"`
	User        string          `xml:"user,attr"`
	UserID      osm.UserID      `xml:"uid,attr"`
	Refs        []ndElement     `xml:"nd"`
	Tags        []tagElement    `xml:"tag"`
}

type ndElement struct {
	Ref osm.NodeID `xml:"ref,attr"`
}

type tagElement struct {
	Key   string `xml:"k,attr"`
	Value string `xml:"v,attr"`
}
