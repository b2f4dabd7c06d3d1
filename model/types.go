package model

import (
	"fmt"
	"math"
)

// SegmentID is the opaque handle of one immutable index segment.
type SegmentID uint32

// DocID is a dense, segment-local document identifier.
type DocID uint32

// DocAddress identifies a document within a snapshot.
type DocAddress struct {
	SegmentID SegmentID
	DocID     DocID
}

// String returns a string representation of the DocAddress.
func (a DocAddress) String() string {
	return fmt.Sprintf("Doc(%d:%d)", a.SegmentID, a.DocID)
}

// Pack encodes the address as segment<<32 | doc.
func (a DocAddress) Pack() uint64 {
	return uint64(a.SegmentID)<<32 | uint64(a.DocID)
}

// UnpackDocAddress is the inverse of DocAddress.Pack.
func UnpackDocAddress(v uint64) DocAddress {
	return DocAddress{SegmentID: SegmentID(v >> 32), DocID: DocID(uint32(v))}
}

// RowKey is the opaque per-row identifier handed to the visibility oracle.
type RowKey uint64

// NoRowKey marks an absent key: a row without a stored key, or a row the
// visibility oracle rejected.
const NoRowKey RowKey = math.MaxUint64

// Valid reports whether k is a real key.
func (k RowKey) Valid() bool { return k != NoRowKey }

// SearchScore is a relevance score paired with the row key of its document.
type SearchScore struct {
	Score float32
	Key   RowKey
}

// ScoredDoc is one candidate emitted by a search source.
type ScoredDoc struct {
	Score SearchScore
	Addr  DocAddress
}

// Direction is a sort direction.
type Direction uint8

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// OrderBy is one ORDER BY feature pushed into an ordered top-N search.
// An empty Field orders by score.
type OrderBy struct {
	Field     string
	Direction Direction
}

// IsScore reports whether the feature orders by relevance score.
func (o OrderBy) IsScore() bool { return o.Field == "" }
