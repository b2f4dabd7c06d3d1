package fastfield

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/searchexec/model"
)

// Store lazily opens one typed reader per (segment, field index) and caches
// it for the lifetime of a query.
//
// Store is NOT thread-safe. Each pipeline owns its own Store.
type Store struct {
	src    Source
	fields []WhichFastField
	segs   map[model.SegmentID]*segmentSlots
}

type segmentSlots struct {
	readers Readers
	cols    []Column
	opened  []bool
	ctid    Values[uint64]
}

// NewStore creates a Store serving fields from src.
func NewStore(src Source, fields []WhichFastField) *Store {
	return &Store{
		src:    src,
		fields: fields,
		segs:   make(map[model.SegmentID]*segmentSlots),
	}
}

// Fields returns the output schema.
func (s *Store) Fields() []WhichFastField { return s.fields }

// Len returns the number of fields.
func (s *Store) Len() int { return len(s.fields) }

func (s *Store) segment(seg model.SegmentID) (*segmentSlots, error) {
	if slots, ok := s.segs[seg]; ok {
		return slots, nil
	}
	r, err := s.src.Segment(seg)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", seg, err)
	}
	slots := &segmentSlots{
		readers: r,
		cols:    make([]Column, len(s.fields)),
		opened:  make([]bool, len(s.fields)),
	}
	s.segs[seg] = slots
	return slots, nil
}

// Column returns the typed reader for field idx in seg, opening it on first
// access.
func (s *Store) Column(seg model.SegmentID, idx int) (Column, error) {
	if idx < 0 || idx >= len(s.fields) {
		return Column{}, model.Usagef("fastfield.Column", "field index %d out of range", idx)
	}
	slots, err := s.segment(seg)
	if err != nil {
		return Column{}, err
	}
	if slots.opened[idx] {
		return slots.cols[idx], nil
	}

	w := s.fields[idx]
	if !w.HasColumn() {
		return Column{}, model.Usagef("fastfield.Column", "%s is not backed by a fast field", w.Name())
	}
	if w.Kind == KindDeferred && !w.Type.IsTerm() {
		return Column{}, model.Usagef("fastfield.Column", "deferred column %q must be str or bytes, got %s", w.Field, w.Type)
	}
	col, err := slots.readers.Open(w.Field)
	if err != nil {
		if errors.Is(err, ErrFieldNotFound) {
			return Column{}, model.Wrap(model.UsageError, "fastfield.Column",
				fmt.Errorf("field %q is missing or not configured as a fast field: %w", w.Field, err))
		}
		return Column{}, err
	}
	if !compatible(w.Type, col.Type) {
		return Column{}, model.Corruptf("fastfield.Column",
			"field %q declared as %s but stored as %s", w.Field, w.Type, col.Type)
	}

	slots.cols[idx] = col
	slots.opened[idx] = true
	return col, nil
}

// Ctid returns the row-key column of seg, opening it on first access.
func (s *Store) Ctid(seg model.SegmentID) (Values[uint64], error) {
	slots, err := s.segment(seg)
	if err != nil {
		return nil, err
	}
	if slots.ctid == nil {
		c, err := slots.readers.Ctid()
		if err != nil {
			return nil, model.Wrap(model.UsageError, "fastfield.Ctid", err)
		}
		slots.ctid = c
	}
	return slots.ctid, nil
}

// RowKey returns the row key of addr.
func (s *Store) RowKey(addr model.DocAddress) (model.RowKey, error) {
	c, err := s.Ctid(addr.SegmentID)
	if err != nil {
		return model.NoRowKey, err
	}
	if v, ok := c.First(addr.DocID); ok {
		return model.RowKey(v), nil
	}
	return model.NoRowKey, nil
}

// Value reads the single value of field idx at addr. Documents without a
// value yield model.Null.
func (s *Store) Value(ctx context.Context, idx int, addr model.DocAddress) (model.Value, error) {
	col, err := s.Column(addr.SegmentID, idx)
	if err != nil {
		return model.Null, err
	}
	return ReadValue(ctx, col, addr.DocID)
}

// Text reads field idx at addr as text.
func (s *Store) Text(ctx context.Context, idx int, addr model.DocAddress) (string, bool, error) {
	v, err := s.Value(ctx, idx, addr)
	if err != nil || v.IsNull() {
		return "", false, err
	}
	switch v.Kind {
	case model.KindStr:
		return v.Str, true, nil
	case model.KindBytes:
		return string(v.Raw), true, nil
	default:
		return "", false, model.Corruptf("fastfield.Text", "field %d is %s, not text", idx, v.Kind)
	}
}

// ReadValue reads the first value of doc from col.
func ReadValue(ctx context.Context, col Column, doc model.DocID) (model.Value, error) {
	switch col.Type {
	case TypeI64:
		if v, ok := col.I64.First(doc); ok {
			return model.I64(v), nil
		}
	case TypeU64:
		if v, ok := col.U64.First(doc); ok {
			return model.U64(v), nil
		}
	case TypeF64:
		if v, ok := col.F64.First(doc); ok {
			return model.F64(v), nil
		}
	case TypeBool:
		if v, ok := col.Bool.First(doc); ok {
			return model.Bool(v), nil
		}
	case TypeDate:
		if v, ok := col.Date.First(doc); ok {
			return model.Value{Kind: model.KindDate, I64: v}, nil
		}
	case TypeStr, TypeBytes:
		ord, ok := col.Terms.Ords().First(doc)
		if !ok {
			return model.Null, nil
		}
		term, err := LookupTerm(ctx, col.Terms.Dictionary(), ord)
		if err != nil {
			return model.Null, err
		}
		if col.Type == TypeBytes {
			return model.Bytes(term), nil
		}
		return model.Str(string(term)), nil
	default:
		return model.Null, model.Corruptf("fastfield.ReadValue", "unknown column type %s", col.Type)
	}
	return model.Null, nil
}

// LookupTerm decodes the single term with ordinal ord.
func LookupTerm(ctx context.Context, dict Dictionary, ord uint64) ([]byte, error) {
	addr, ok := dict.BlockWithOrd(ord)
	if !ok {
		return nil, model.Corruptf("fastfield.LookupTerm", "ordinal %d not in dictionary", ord)
	}
	br, err := dict.OpenBlock(ctx, addr)
	if err != nil {
		return nil, err
	}
	var key []byte
	for cur := addr.FirstOrdinal; ; cur++ {
		ok, err := br.Advance()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.Corruptf("fastfield.LookupTerm", "ordinal %d not in dictionary", ord)
		}
		key = append(key[:br.CommonPrefixLen()], br.Suffix()...)
		if cur == ord {
			return key, nil
		}
	}
}
