package scan

import (
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
)

// arena is scratch space reused across batches. Nothing handed out in a
// Batch points into it.
//
// arena is NOT thread-safe; each Scanner owns one.
type arena struct {
	keys    []model.RowKey
	visible []model.RowKey
	ctids   []uint64
	present []bool
	keep    []bool
	order   []int
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

// keepMask returns a mask of n entries, all false.
func (a *arena) keepMask(n int) []bool {
	a.keep = grow(a.keep, n)
	clear(a.keep)
	return a.keep
}

// sortOrder returns the positions 0..n-1.
func (a *arena) sortOrder(n int) []int {
	a.order = grow(a.order, n)
	for i := range a.order {
		a.order[i] = i
	}
	return a.order
}

// memo is a fast-field column fetched for the current rows, kept aligned
// with them across compactions so later stages reuse it.
type memo struct {
	typ     fastfield.FieldType
	i64     []int64
	u64     []uint64 // values, or term ordinals
	f64     []float64
	bools   []bool
	present []bool
}

// fetchMemo reads col for ids with one batched call.
func fetchMemo(col fastfield.Column, ids []model.DocID) *memo {
	n := len(ids)
	m := &memo{typ: col.Type, present: make([]bool, n)}
	switch col.Type {
	case fastfield.TypeI64:
		m.i64 = make([]int64, n)
		col.I64.FirstVals(ids, m.i64, m.present)
	case fastfield.TypeDate:
		m.i64 = make([]int64, n)
		col.Date.FirstVals(ids, m.i64, m.present)
	case fastfield.TypeU64:
		m.u64 = make([]uint64, n)
		col.U64.FirstVals(ids, m.u64, m.present)
	case fastfield.TypeF64:
		m.f64 = make([]float64, n)
		col.F64.FirstVals(ids, m.f64, m.present)
	case fastfield.TypeBool:
		m.bools = make([]bool, n)
		col.Bool.FirstVals(ids, m.bools, m.present)
	case fastfield.TypeStr, fastfield.TypeBytes:
		m.u64 = make([]uint64, n)
		col.Terms.Ords().FirstVals(ids, m.u64, m.present)
	}
	return m
}

// ordinals returns the term ordinals with nulls as fastfield.NullOrdinal.
func (m *memo) ordinals() []uint64 {
	out := make([]uint64, len(m.u64))
	for i, ord := range m.u64 {
		if m.present[i] {
			out[i] = ord
		} else {
			out[i] = nullOrdinal
		}
	}
	return out
}

func (m *memo) retain(keep []bool) {
	if m.i64 != nil {
		m.i64 = compact(m.i64, keep)
	}
	if m.u64 != nil {
		m.u64 = compact(m.u64, keep)
	}
	if m.f64 != nil {
		m.f64 = compact(m.f64, keep)
	}
	if m.bools != nil {
		m.bools = compact(m.bools, keep)
	}
	m.present = compact(m.present, keep)
}

// compact keeps s[i] where keep[i], preserving order, in place.
func compact[T any](s []T, keep []bool) []T {
	w := 0
	for r := range s {
		if keep[r] {
			s[w] = s[r]
			w++
		}
	}
	return s[:w]
}

// toArray converts a numeric or boolean memo to its output array.
func (m *memo) toArray() *Array {
	a := &Array{Valid: validity(m.present)}
	switch m.typ {
	case fastfield.TypeI64:
		a.Kind, a.Int64 = KindInt64, m.i64
	case fastfield.TypeDate:
		a.Kind, a.Timestamp = KindTimestamp, m.i64
	case fastfield.TypeU64:
		a.Kind, a.Uint64 = KindUint64, m.u64
	case fastfield.TypeF64:
		a.Kind, a.Float64 = KindFloat64, m.f64
	case fastfield.TypeBool:
		a.Kind, a.Bool = KindBool, m.bools
	}
	return a
}
