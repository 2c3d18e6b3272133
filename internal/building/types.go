package building

import (
	"strings"

	"github.com/paulmach/orb"
)

// Node is one ring vertex. ID is the coordinate-addressed canonical id
// (always negative); RowID is the store row id assigned on insert.
type Node struct {
	ID         int64
	RowID      int64
	BuildingID int64
	Seq        int
	Lat        float64
	Lon        float64
}

// Building is one polygonal footprint
type Building struct {
	ID     int64
	WayRef int64
	Source string
	Attributes

	// Ring holds canonical node ids in ring order, without the closing repeat
	Ring     []int64
	Polygon  orb.Polygon
	Centroid orb.Point

	// Nodes is only populated by spatial queries, ordered by ring position
	Nodes []Node
}

// Identity is the id state loaded from a store at the start of an import run
type Identity struct {
	MaxBuildingID int64
	MinNodeID     int64
	Coords        map[string]int64 // coordinate key -> node id
}

// Batch is one transactional unit of canonicalized buildings and nodes.
// Scope selects the source labels replaced by this batch.
type Batch struct {
	Scope     string
	Buildings []Building
	Nodes     []Node
}

// BatchResult reports what a batch commit changed
type BatchResult struct {
	BuildingsDeleted int64
	NodesDeleted     int64
	BuildingsWritten int64
	NodesWritten     int64
	NodesOrphaned    int64 // dropped because the owning building was not written
	NodesRepeated    int64 // dropped because the id already appeared in the batch
}

// DatasetCount is the number of buildings stored under one source label
type DatasetCount struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// StoreStats summarizes the contents of a store
type StoreStats struct {
	Buildings      int64          `json:"buildings"`
	BuildingsValid int64          `json:"buildings_valid"`
	WithHeight     int64          `json:"with_height"`
	AvgHeight      *float64       `json:"avg_height,omitempty"`
	MaxHeight      *float64       `json:"max_height,omitempty"`
	Nodes          int64          `json:"nodes"`
	MaxBuildingID  int64          `json:"max_building_id"`
	MinNodeID      int64          `json:"min_node_id"`
	Datasets       []DatasetCount `json:"datasets,omitempty"`
}

// Label builds the source dataset label for one input document
func Label(origin, file string) string {
	return origin + "_" + file
}

// InScope reports whether a label belongs to a batch scope: either the
// scope itself or any label derived from it with Label.
func InScope(label, scope string) bool {
	return label == scope || strings.HasPrefix(label, scope+"_")
}
