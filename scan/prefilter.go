package scan

import (
	"cmp"
	"context"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
)

const nullOrdinal = fastfield.NullOrdinal

// BoundKind tags a Bound.
type BoundKind uint8

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one end of a PreFilter range.
type Bound struct {
	Kind  BoundKind
	Value model.Value
}

// Incl returns an inclusive bound at v.
func Incl(v model.Value) Bound { return Bound{Kind: Included, Value: v} }

// Excl returns an exclusive bound at v.
func Excl(v model.Value) Bound { return Bound{Kind: Excluded, Value: v} }

// PreFilter is a predicate applied to one fast field before any column is
// materialized. Text and bytes bounds are compared as term ordinals.
//
// A filter whose values do not match the stored column type is skipped.
type PreFilter struct {
	// FieldIndex is the position of the column in the scanner schema.
	FieldIndex int
	Lower      Bound
	Upper      Bound
	// In restricts the column to a set of values. When set, Lower and
	// Upper are ignored.
	In []model.Value
	// NullsPass keeps rows without a value.
	NullsPass bool
}

// Less returns the filter col < v, or col IS NULL OR col < v when
// nullsPass is set.
func Less(idx int, v model.Value, nullsPass bool) PreFilter {
	return PreFilter{FieldIndex: idx, Upper: Excl(v), NullsPass: nullsPass}
}

// Greater returns the filter col > v, or col IS NULL OR col > v when
// nullsPass is set.
func Greater(idx int, v model.Value, nullsPass bool) PreFilter {
	return PreFilter{FieldIndex: idx, Lower: Excl(v), NullsPass: nullsPass}
}

// Threshold is a per-segment pruning bound on an ordering column: rows
// strictly worse than Value in the given Direction cannot enter the top-K.
// Rows equal to Value survive. Rows without a value sort last and are
// pruned.
type Threshold struct {
	FieldIndex int
	Direction  model.Direction
	Value      model.Value
}

func (t Threshold) filter() PreFilter {
	if t.Direction == model.Desc {
		return PreFilter{FieldIndex: t.FieldIndex, Lower: Incl(t.Value)}
	}
	return PreFilter{FieldIndex: t.FieldIndex, Upper: Incl(t.Value)}
}

// ThresholdSource supplies the current pruning thresholds of a segment,
// such as the running k-th best values of a segmented top-K merge.
type ThresholdSource interface {
	Thresholds(seg model.SegmentID) []Threshold
}

// ThresholdFunc adapts a function to ThresholdSource.
type ThresholdFunc func(seg model.SegmentID) []Threshold

func (f ThresholdFunc) Thresholds(seg model.SegmentID) []Threshold { return f(seg) }

// matcher reports whether the present value of row i passes.
type matcher func(m *memo, i int) bool

type typedBound[T cmp.Ordered] struct {
	kind BoundKind
	v    T
}

func inRange[T cmp.Ordered](v T, lo, hi typedBound[T]) bool {
	switch lo.kind {
	case Included:
		if v < lo.v {
			return false
		}
	case Excluded:
		if v <= lo.v {
			return false
		}
	}
	switch hi.kind {
	case Included:
		return v <= hi.v
	case Excluded:
		return v < hi.v
	}
	return true
}

func convertBound[T cmp.Ordered](b Bound, conv func(model.Value) (T, bool)) (typedBound[T], bool) {
	if b.Kind == Unbounded {
		return typedBound[T]{}, true
	}
	v, ok := conv(b.Value)
	return typedBound[T]{kind: b.Kind, v: v}, ok
}

func asI64(v model.Value) (int64, bool) {
	return v.I64, v.Kind == model.KindI64
}

func asDate(v model.Value) (int64, bool) {
	return v.I64, v.Kind == model.KindDate || v.Kind == model.KindI64
}

func asU64(v model.Value) (uint64, bool) {
	return v.U64, v.Kind == model.KindU64
}

func asF64(v model.Value) (float64, bool) {
	switch v.Kind {
	case model.KindF64, model.KindI64, model.KindU64:
		return v.Numeric()
	}
	return 0, false
}

func asBool(v model.Value) (uint8, bool) {
	if v.Kind != model.KindBool {
		return 0, false
	}
	if v.Bool {
		return 1, true
	}
	return 0, true
}

func asTerm(v model.Value) ([]byte, bool) {
	switch v.Kind {
	case model.KindStr:
		return []byte(v.Str), true
	case model.KindBytes:
		return v.Raw, true
	}
	return nil, false
}

// compile builds the matcher of f for col. It returns false
// when the filter does not apply to the column.
func compile(ctx context.Context, col fastfield.Column, f PreFilter) (matcher, bool, error) {
	if len(f.In) > 0 {
		return compileIn(ctx, col, f.In)
	}
	switch col.Type {
	case fastfield.TypeI64:
		return rangeMatcher(f, asI64, func(m *memo, i int) int64 { return m.i64[i] })
	case fastfield.TypeDate:
		return rangeMatcher(f, asDate, func(m *memo, i int) int64 { return m.i64[i] })
	case fastfield.TypeU64:
		return rangeMatcher(f, asU64, func(m *memo, i int) uint64 { return m.u64[i] })
	case fastfield.TypeF64:
		return rangeMatcher(f, asF64, func(m *memo, i int) float64 { return m.f64[i] })
	case fastfield.TypeBool:
		return rangeMatcher(f, asBool, func(m *memo, i int) uint8 {
			if m.bools[i] {
				return 1
			}
			return 0
		})
	case fastfield.TypeStr, fastfield.TypeBytes:
		lo, hi, ok, err := ordinalRange(ctx, col.Terms.Dictionary(), f.Lower, f.Upper)
		if !ok || err != nil {
			return nil, false, err
		}
		return func(m *memo, i int) bool {
			ord := m.u64[i]
			return ord >= lo && ord < hi
		}, true, nil
	}
	return nil, false, nil
}

func rangeMatcher[T cmp.Ordered](f PreFilter, conv func(model.Value) (T, bool), get func(*memo, int) T) (matcher, bool, error) {
	lo, ok := convertBound(f.Lower, conv)
	if !ok {
		return nil, false, nil
	}
	hi, ok := convertBound(f.Upper, conv)
	if !ok {
		return nil, false, nil
	}
	return func(m *memo, i int) bool { return inRange(get(m, i), lo, hi) }, true, nil
}

// ordinalRange converts term bounds to the half-open ordinal range
// [lo, hi) of one segment dictionary.
func ordinalRange(ctx context.Context, dict fastfield.Dictionary, lower, upper Bound) (lo, hi uint64, ok bool, err error) {
	lo, hi = 0, math.MaxUint64
	if lower.Kind != Unbounded {
		key, ok := asTerm(lower.Value)
		if !ok {
			return 0, 0, false, nil
		}
		ord, exact, err := dict.SeekOrd(ctx, key)
		if err != nil {
			return 0, 0, false, err
		}
		lo = ord
		if exact && lower.Kind == Excluded {
			lo = ord + 1
		}
	}
	if upper.Kind != Unbounded {
		key, ok := asTerm(upper.Value)
		if !ok {
			return 0, 0, false, nil
		}
		ord, exact, err := dict.SeekOrd(ctx, key)
		if err != nil {
			return 0, 0, false, err
		}
		hi = ord
		if exact && upper.Kind == Included {
			hi = ord + 1
		}
	}
	return lo, hi, true, nil
}

// compileIn matches set membership. Term and integer columns probe a
// roaring64 bitmap of ordinals or value bits.
func compileIn(ctx context.Context, col fastfield.Column, values []model.Value) (matcher, bool, error) {
	set := roaring64.New()
	switch col.Type {
	case fastfield.TypeStr, fastfield.TypeBytes:
		dict := col.Terms.Dictionary()
		for _, v := range values {
			key, ok := asTerm(v)
			if !ok {
				return nil, false, nil
			}
			ord, exact, err := dict.SeekOrd(ctx, key)
			if err != nil {
				return nil, false, err
			}
			if exact {
				set.Add(ord)
			}
		}
		return func(m *memo, i int) bool { return set.Contains(m.u64[i]) }, true, nil
	case fastfield.TypeI64, fastfield.TypeDate:
		conv := asI64
		if col.Type == fastfield.TypeDate {
			conv = asDate
		}
		for _, v := range values {
			n, ok := conv(v)
			if !ok {
				return nil, false, nil
			}
			set.Add(uint64(n))
		}
		return func(m *memo, i int) bool { return set.Contains(uint64(m.i64[i])) }, true, nil
	case fastfield.TypeU64:
		for _, v := range values {
			n, ok := asU64(v)
			if !ok {
				return nil, false, nil
			}
			set.Add(n)
		}
		return func(m *memo, i int) bool { return set.Contains(m.u64[i]) }, true, nil
	case fastfield.TypeF64:
		want := make(map[float64]struct{}, len(values))
		for _, v := range values {
			n, ok := asF64(v)
			if !ok {
				return nil, false, nil
			}
			want[n] = struct{}{}
		}
		return func(m *memo, i int) bool {
			_, ok := want[m.f64[i]]
			return ok
		}, true, nil
	case fastfield.TypeBool:
		var accept [2]bool
		for _, v := range values {
			b, ok := asBool(v)
			if !ok {
				return nil, false, nil
			}
			accept[b] = true
		}
		return func(m *memo, i int) bool {
			if m.bools[i] {
				return accept[1]
			}
			return accept[0]
		}, true, nil
	}
	return nil, false, nil
}
