// Package memindex is an in-memory segmented index. It implements the search
// and fast-field collaborators consumed by the scanner, the Top-N executor and
// the aggregation engine, and is used by tests and the command line tool.
//
// Every segment stores one column per schema field. Numeric columns are plain
// arrays; text and bytes columns are dictionary encoded with per-segment
// ordinals and a block-compressed term dictionary.
package memindex

import (
	"bytes"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/cache"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
)

// DefaultBlockSize is the number of terms per dictionary block.
const DefaultBlockSize = 16

// Field declares one stored column.
type Field struct {
	Name string
	Type fastfield.FieldType
}

// Doc is one indexed row.
type Doc struct {
	Key    model.RowKey
	Score  float32
	Fields map[string]model.Value
}

// Options configure an Index.
type Options struct {
	// BlockSize is the number of terms per dictionary block.
	BlockSize int
	// Compression is the dictionary block codec.
	Compression Compression
	// IO throttles dictionary block reads. Nil is unlimited.
	IO *resource.Controller
	// Cache holds decompressed dictionary blocks. Nil disables caching.
	Cache cache.BlockCache
}

// Stats counts index activity. All fields are safe for concurrent use.
type Stats struct {
	// BlocksOpened counts dictionary block opens, cached or not.
	BlocksOpened atomic.Int64
	// BlocksDecoded counts dictionary blocks read and decompressed.
	BlocksDecoded atomic.Int64
	// ColumnsOpened counts Readers.Open calls.
	ColumnsOpened atomic.Int64
}

// Index is an immutable set of segments.
type Index struct {
	schema   []Field
	segments []*segment
	stats    *Stats
	cache    cache.BlockCache
}

// New builds an index with one segment per element of segments. Segment i
// gets SegmentID i.
func New(schema []Field, opts Options, segments ...[]Doc) (*Index, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	seen := make(map[string]bool, len(schema))
	for _, f := range schema {
		if f.Name == "" || seen[f.Name] {
			return nil, model.Usagef("memindex.New", "invalid or duplicate field %q", f.Name)
		}
		seen[f.Name] = true
	}

	idx := &Index{schema: schema, stats: &Stats{}, cache: opts.Cache}
	for i, docs := range segments {
		seg, err := buildSegment(model.SegmentID(i), schema, docs, &opts, idx.stats)
		if err != nil {
			return nil, err
		}
		idx.segments = append(idx.segments, seg)
	}
	return idx, nil
}

// Release evicts the cached dictionary blocks of every segment of x and
// returns how many were held.
func (x *Index) Release() int {
	if x.cache == nil {
		return 0
	}
	n := 0
	for _, s := range x.segments {
		n += x.cache.DropSegment(s.id)
	}
	return n
}

// Schema returns the declared fields.
func (x *Index) Schema() []Field { return x.schema }

// Stats returns the live counters of x.
func (x *Index) Stats() *Stats { return x.stats }

// SegmentIDs returns every segment id in order.
func (x *Index) SegmentIDs() []model.SegmentID {
	ids := make([]model.SegmentID, len(x.segments))
	for i, s := range x.segments {
		ids[i] = s.id
	}
	return ids
}

// NumDocs returns the number of documents over all segments.
func (x *Index) NumDocs() int {
	n := 0
	for _, s := range x.segments {
		n += len(s.docs)
	}
	return n
}

// Segment implements fastfield.Source.
func (x *Index) Segment(id model.SegmentID) (fastfield.Readers, error) {
	s, err := x.segment(id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (x *Index) segment(id model.SegmentID) (*segment, error) {
	if int(id) >= len(x.segments) {
		return nil, model.Usagef("memindex.Segment", "unknown segment %d", id)
	}
	return x.segments[id], nil
}

type segment struct {
	id      model.SegmentID
	docs    []Doc
	columns map[string]fastfield.Column
	ctid    *values[uint64]
	stats   *Stats
}

var _ fastfield.Readers = (*segment)(nil)

func buildSegment(id model.SegmentID, schema []Field, docs []Doc, opts *Options, stats *Stats) (*segment, error) {
	s := &segment{
		id:      id,
		docs:    docs,
		columns: make(map[string]fastfield.Column, len(schema)),
		ctid:    newValues[uint64](len(docs)),
		stats:   stats,
	}
	for i, d := range docs {
		if d.Key.Valid() {
			s.ctid.set(i, uint64(d.Key))
		}
	}
	for _, f := range schema {
		col, err := buildColumn(id, f, docs, opts, stats)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", id, err)
		}
		s.columns[f.Name] = col
	}
	return s, nil
}

func buildColumn(seg model.SegmentID, f Field, docs []Doc, opts *Options, stats *Stats) (fastfield.Column, error) {
	col := fastfield.Column{Type: f.Type}
	mismatch := func(doc int, v model.Value) error {
		return model.Usagef("memindex.New", "doc %d: field %q declared %s, got %s", doc, f.Name, f.Type, v.Kind)
	}

	switch f.Type {
	case fastfield.TypeI64, fastfield.TypeDate:
		vals := newValues[int64](len(docs))
		want := model.KindI64
		if f.Type == fastfield.TypeDate {
			want = model.KindDate
		}
		for i, d := range docs {
			v := d.Fields[f.Name]
			if v.IsNull() {
				continue
			}
			if v.Kind != want {
				return col, mismatch(i, v)
			}
			vals.set(i, v.I64)
		}
		if f.Type == fastfield.TypeDate {
			col.Date = vals
		} else {
			col.I64 = vals
		}
	case fastfield.TypeU64:
		vals := newValues[uint64](len(docs))
		for i, d := range docs {
			v := d.Fields[f.Name]
			if v.IsNull() {
				continue
			}
			if v.Kind != model.KindU64 {
				return col, mismatch(i, v)
			}
			vals.set(i, v.U64)
		}
		col.U64 = vals
	case fastfield.TypeF64:
		vals := newValues[float64](len(docs))
		for i, d := range docs {
			v := d.Fields[f.Name]
			if v.IsNull() {
				continue
			}
			n, ok := v.Numeric()
			if !ok || v.Kind == model.KindBool {
				return col, mismatch(i, v)
			}
			vals.set(i, n)
		}
		col.F64 = vals
	case fastfield.TypeBool:
		vals := newValues[bool](len(docs))
		for i, d := range docs {
			v := d.Fields[f.Name]
			if v.IsNull() {
				continue
			}
			if v.Kind != model.KindBool {
				return col, mismatch(i, v)
			}
			vals.set(i, v.Bool)
		}
		col.Bool = vals
	case fastfield.TypeStr, fastfield.TypeBytes:
		tc, err := buildTermColumn(seg, f, docs, opts, stats)
		if err != nil {
			return col, err
		}
		col.Terms = tc
	default:
		return col, model.Usagef("memindex.New", "field %q has unknown type %s", f.Name, f.Type)
	}
	return col, nil
}

func termBytes(v model.Value) ([]byte, bool) {
	switch v.Kind {
	case model.KindStr:
		return []byte(v.Str), true
	case model.KindBytes:
		return v.Raw, true
	}
	return nil, false
}

func buildTermColumn(seg model.SegmentID, f Field, docs []Doc, opts *Options, stats *Stats) (*termColumn, error) {
	perDoc := make([][]byte, len(docs))
	var terms [][]byte
	for i, d := range docs {
		v := d.Fields[f.Name]
		if v.IsNull() {
			continue
		}
		t, ok := termBytes(v)
		if !ok {
			return nil, model.Usagef("memindex.New", "doc %d: field %q declared %s, got %s", i, f.Name, f.Type, v.Kind)
		}
		perDoc[i] = t
		terms = append(terms, t)
	}
	slices.SortFunc(terms, bytes.Compare)
	terms = slices.CompactFunc(terms, bytes.Equal)

	dict, err := buildDictionary(seg, f.Name, terms, opts, stats)
	if err != nil {
		return nil, err
	}
	ords := newValues[uint64](len(docs))
	for i, t := range perDoc {
		if t == nil {
			continue
		}
		ord, _ := slices.BinarySearchFunc(terms, t, bytes.Compare)
		ords.set(i, uint64(ord))
	}
	return &termColumn{ords: ords, dict: dict}, nil
}

// Open implements fastfield.Readers.
func (s *segment) Open(field string) (fastfield.Column, error) {
	s.stats.ColumnsOpened.Add(1)
	col, ok := s.columns[field]
	if !ok {
		return fastfield.Column{}, fmt.Errorf("%w: %q", fastfield.ErrFieldNotFound, field)
	}
	return col, nil
}

// Ctid implements fastfield.Readers.
func (s *segment) Ctid() (fastfield.Values[uint64], error) { return s.ctid, nil }

// values is a dense single-valued column.
type values[T any] struct {
	vals    []T
	present []bool
}

func newValues[T any](n int) *values[T] {
	return &values[T]{vals: make([]T, n), present: make([]bool, n)}
}

func (v *values[T]) set(doc int, x T) {
	v.vals[doc] = x
	v.present[doc] = true
}

func (v *values[T]) First(doc model.DocID) (T, bool) {
	if int(doc) >= len(v.vals) || !v.present[doc] {
		var zero T
		return zero, false
	}
	return v.vals[doc], true
}

func (v *values[T]) FirstVals(docs []model.DocID, out []T, present []bool) {
	for i, d := range docs {
		out[i], present[i] = v.First(d)
	}
}

type termColumn struct {
	ords *values[uint64]
	dict *dictionary
}

func (c *termColumn) Ords() fastfield.Values[uint64]   { return c.ords }
func (c *termColumn) Dictionary() fastfield.Dictionary { return c.dict }

// docView exposes one stored document to predicates and aggregations.
type docView struct {
	doc *Doc
}

func (d docView) Value(field string) model.Value {
	if field == "ctid" {
		if d.doc.Key.Valid() {
			return model.U64(uint64(d.doc.Key))
		}
		return model.Null
	}
	return d.doc.Fields[field]
}

func (d docView) RowKey() model.RowKey { return d.doc.Key }
