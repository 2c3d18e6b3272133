package canon

import "strconv"

// Precision is the number of decimal places that define vertex identity
const Precision = 7

// CoordKey returns the identity key for a coordinate: both axes formatted
// to Precision decimals, latitude first.
func CoordKey(lat, lon float64) string {
	b := make([]byte, 0, 24)
	b = appendCoord(b, lat)
	b = append(b, ',')
	b = appendCoord(b, lon)
	return string(b)
}

// FormatCoord formats one axis to Precision decimals. Values that round
// to zero format without a sign.
func FormatCoord(v float64) string {
	return string(appendCoord(make([]byte, 0, 12), v))
}

func appendCoord(b []byte, v float64) []byte {
	start := len(b)
	b = strconv.AppendFloat(b, v, 'f', Precision, 64)
	if b[start] != '-' {
		return b
	}
	for _, c := range b[start+1:] {
		if c != '0' && c != '.' {
			return b
		}
	}
	// negative zero after rounding
	return append(b[:start], b[start+1:]...)
}

// Sequences mints building and node ids for one import run. Building ids
// grow upward from 1, node ids grow downward from -1 so they never collide
// with ids issued by upstream OSM.
type Sequences struct {
	nextBuilding int64
	nextNode     int64
}

// NewSequences seeds the allocator from the largest stored building id and
// the smallest stored node id. Zero values mean an empty store.
func NewSequences(maxBuilding, minNode int64) *Sequences {
	nb := maxBuilding + 1
	if nb < 1 {
		nb = 1
	}
	nn := minNode - 1
	if nn > -1 {
		nn = -1
	}
	return &Sequences{nextBuilding: nb, nextNode: nn}
}

// NextBuilding returns a fresh building id
func (s *Sequences) NextBuilding() int64 {
	id := s.nextBuilding
	s.nextBuilding++
	return id
}

// NextNode returns a fresh node id
func (s *Sequences) NextNode() int64 {
	id := s.nextNode
	s.nextNode--
	return id
}

// IdentityTable maps coordinate keys to node ids. It belongs to a single
// import run and is not safe for concurrent use.
type IdentityTable struct {
	seq    *Sequences
	ids    map[string]int64
	minted int
}

// NewIdentityTable creates an empty table minting new ids from seq
func NewIdentityTable(seq *Sequences) *IdentityTable {
	return &IdentityTable{
		seq: seq,
		ids: make(map[string]int64),
	}
}

// Seed registers an id already present in the store
func (t *IdentityTable) Seed(key string, id int64) {
	t.ids[key] = id
}

// Resolve returns the id for a coordinate, minting one on first sight.
// The second result reports whether the id was minted by this call.
func (t *IdentityTable) Resolve(lat, lon float64) (int64, bool) {
	key := CoordKey(lat, lon)
	if id, ok := t.ids[key]; ok {
		return id, false
	}
	id := t.seq.NextNode()
	t.ids[key] = id
	t.minted++
	return id, true
}

// Len returns the number of known coordinates
func (t *IdentityTable) Len() int {
	return len(t.ids)
}

// Minted returns how many ids this table has minted
func (t *IdentityTable) Minted() int {
	return t.minted
}
