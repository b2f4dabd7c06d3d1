package fastfield

import (
	"context"
	"errors"
	"math"

	"github.com/hupe1980/searchexec/model"
)

// NullOrdinal is the ordinal reported for documents without a term. It sorts
// after every real ordinal.
const NullOrdinal uint64 = math.MaxUint64

// ErrFieldNotFound is returned by Readers.Open for unknown columns.
var ErrFieldNotFound = errors.New("fast field not found")

// Values is a typed columnar reader over one segment.
type Values[T any] interface {
	// First returns the first value of doc, or false when doc has none.
	First(doc model.DocID) (T, bool)

	// FirstVals fills out[i] and present[i] for every docs[i].
	// len(out) and len(present) must be >= len(docs).
	FirstVals(docs []model.DocID, out []T, present []bool)
}

// TermColumn is a dictionary-encoded text or binary column. Ordinals are
// dense and follow the sort order of the terms.
type TermColumn interface {
	// Ords returns the per-document ordinal reader. Missing terms are
	// reported as not present.
	Ords() Values[uint64]
	Dictionary() Dictionary
}

// BlockAddr locates a compressed dictionary block.
type BlockAddr struct {
	Index        int
	FirstOrdinal uint64
}

// Dictionary is a sorted term dictionary stored in prefix-compressed blocks.
// Walks must proceed in non-decreasing ordinal order.
type Dictionary interface {
	NumTerms() uint64

	// BlockWithOrd returns the block holding ord.
	BlockWithOrd(ord uint64) (BlockAddr, bool)

	// OpenBlock returns a delta reader positioned before the first term of
	// the block.
	OpenBlock(ctx context.Context, addr BlockAddr) (BlockReader, error)

	// SeekOrd returns the ordinal of the first term >= key and whether that
	// term equals key. When every term is smaller, ord is NumTerms().
	SeekOrd(ctx context.Context, key []byte) (ord uint64, exact bool, err error)
}

// BlockReader decodes one dictionary block term by term. After a successful
// Advance the current term is the previous term truncated to
// CommonPrefixLen() followed by Suffix().
type BlockReader interface {
	Advance() (bool, error)
	CommonPrefixLen() int
	Suffix() []byte
}

// Column is a tagged union over the typed readers of one stored column.
// Exactly the reader matching Type is set. Str and Bytes columns use Terms.
type Column struct {
	Type  FieldType
	I64   Values[int64]
	U64   Values[uint64]
	F64   Values[float64]
	Bool  Values[bool]
	Date  Values[int64] // unix nanoseconds
	Terms TermColumn
}

// Readers opens the stored columns of one segment.
type Readers interface {
	// Open returns the column for field or ErrFieldNotFound.
	Open(field string) (Column, error)

	// Ctid returns the row-key column.
	Ctid() (Values[uint64], error)
}

// Source resolves the readers of a segment.
type Source interface {
	Segment(id model.SegmentID) (Readers, error)
}

func compatible(declared, stored FieldType) bool {
	if declared == stored {
		return true
	}
	return declared.IsTerm() && stored.IsTerm()
}
