package aggregate

import (
	"math"
	"strconv"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
)

// Flatten turns the merged result tree of p into rows.
//
// Ungrouped plans always yield exactly one row. Grouped plans yield one row
// per non-empty group and no rows for an empty input.
func (p *Plan) Flatten(res Results) ([]Row, error) {
	switch p.Shape {
	case ShapeUngrouped, ShapeUngroupedFiltered:
		return []Row{p.flattenUngrouped(res)}, nil
	case ShapeGrouped:
		return p.flattenGrouped(res)
	case ShapeGroupedFiltered:
		return p.flattenGroupedFiltered(res)
	}
	return nil, model.Usagef("aggregate.Flatten", "unknown plan shape %d", p.Shape)
}

func (p *Plan) flattenUngrouped(res Results) Row {
	aggs := p.Clause.Aggregates
	row := Row{Aggregates: make([]Value, len(aggs))}

	if p.HasDocCount {
		var n uint64
		if r := res[DocCountKey]; r != nil && r.Metric != nil {
			n = r.Metric.Count
		}
		row.DocCount = &n
		if n == 0 {
			for i, a := range aggs {
				row.Aggregates[i] = a.Nullish()
			}
			return row
		}
	}

	for i, a := range aggs {
		r := res[strconv.Itoa(i)]
		if p.Shape == ShapeUngroupedFiltered && r != nil {
			if r.Filter == nil {
				r = nil
			} else {
				r = r.Filter.Sub["0"]
			}
		}
		row.Aggregates[i] = resultValue(a, r)
	}
	return row
}

// resultValue maps a metric result to a scalar and anything else to a
// structured value. Absent results take the aggregate's empty value.
func resultValue(a AggregateType, r *Result) Value {
	if r == nil {
		return a.Nullish()
	}
	if a.Kind == KindCustom || r.Metric == nil {
		return Structured(r.Structured())
	}
	if v, ok := r.Metric.Value(); ok {
		return Scalar(v)
	}
	return NullValue()
}

type groupPath struct {
	keys     []model.Value
	docCount uint64
}

// collectGroupKeys walks the "grouped" terms levels and records one path per
// leaf bucket, that is a bucket without a non-empty nested terms level.
func collectGroupKeys(res Results, cols []GroupingColumn, depth int, prefix []model.Value, out *[]groupPath) {
	g := res[GroupedKey]
	if g == nil || g.Terms == nil || depth >= len(cols) {
		return
	}
	for _, b := range g.Terms.Buckets {
		key, ok := typedKey(b.Key, cols[depth].Type)
		if !ok {
			key = b.Key
		}
		keys := append(append(make([]model.Value, 0, len(cols)), prefix...), key)

		if nested := b.Sub[GroupedKey]; nested != nil && nested.Terms != nil && len(nested.Terms.Buckets) > 0 && depth+1 < len(cols) {
			collectGroupKeys(b.Sub, cols, depth+1, keys, out)
			continue
		}
		for len(keys) < len(cols) {
			keys = append(keys, model.Null)
		}
		*out = append(*out, groupPath{keys: keys, docCount: b.DocCount})
	}
}

// leafFor follows keys down the "grouped" levels of res and returns the
// sub-results of the matching leaf bucket, or nil.
func leafFor(res Results, cols []GroupingColumn, keys []model.Value) Results {
	cur := res
	for depth, want := range keys {
		if want.IsNull() {
			return nil
		}
		g := cur[GroupedKey]
		if g == nil || g.Terms == nil {
			return nil
		}
		var next Results
		found := false
		for _, b := range g.Terms.Buckets {
			if key, ok := typedKey(b.Key, cols[depth].Type); ok && key.Equal(want) {
				next, found = b.Sub, true
				break
			}
		}
		if !found {
			return nil
		}
		cur = next
	}
	return cur
}

func (p *Plan) flattenGrouped(res Results) ([]Row, error) {
	var paths []groupPath
	collectGroupKeys(res, p.Clause.GroupBy, 0, nil, &paths)

	rows := make([]Row, 0, len(paths))
	for _, path := range paths {
		leaf := leafFor(res, p.Clause.GroupBy, path.keys)
		row := p.newGroupRow(path)
		for i, a := range p.Clause.Aggregates {
			if a.CanUseDocCount() {
				row.Aggregates[i] = Scalar(float64(path.docCount))
				continue
			}
			row.Aggregates[i] = resultValue(a, leaf[strconv.Itoa(i)])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (p *Plan) flattenGroupedFiltered(res Results) ([]Row, error) {
	sentinel := res[FilterSentinelKey]
	if sentinel == nil || sentinel.Filter == nil {
		return nil, nil
	}
	sub := sentinel.Filter.Sub

	var paths []groupPath
	collectGroupKeys(sub, p.Clause.GroupBy, 0, nil, &paths)

	rows := make([]Row, 0, len(paths))
	for _, path := range paths {
		row := p.newGroupRow(path)
		for i, a := range p.Clause.Aggregates {
			if a.CanUseDocCount() {
				row.Aggregates[i] = Scalar(float64(path.docCount))
				continue
			}
			fb := sub[strconv.Itoa(i)]
			if fb == nil || fb.Filter == nil {
				row.Aggregates[i] = a.Nullish()
				continue
			}
			leaf := leafFor(fb.Filter.Sub, p.Clause.GroupBy, path.keys)
			row.Aggregates[i] = resultValue(a, leaf["0"])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (p *Plan) newGroupRow(path groupPath) Row {
	n := path.docCount
	return Row{
		GroupKeys:  path.keys,
		Aggregates: make([]Value, len(p.Clause.Aggregates)),
		DocCount:   &n,
	}
}

// typedKey converts a bucket key to the declared column type. Numeric keys
// may come back widened to f64; they convert back when lossless. Any other
// kind mismatch reports false.
func typedKey(v model.Value, t fastfield.FieldType) (model.Value, bool) {
	switch t {
	case fastfield.TypeStr:
		switch v.Kind {
		case model.KindStr:
			return v, true
		case model.KindBytes:
			return model.Str(string(v.Raw)), true
		}
	case fastfield.TypeBytes:
		switch v.Kind {
		case model.KindBytes:
			return v, true
		case model.KindStr:
			return model.Bytes([]byte(v.Str)), true
		}
	case fastfield.TypeI64:
		switch v.Kind {
		case model.KindI64:
			return v, true
		case model.KindU64:
			if v.U64 <= math.MaxInt64 {
				return model.I64(int64(v.U64)), true
			}
		case model.KindF64:
			if v.F64 == math.Trunc(v.F64) && v.F64 >= math.MinInt64 && v.F64 < math.MaxInt64 {
				return model.I64(int64(v.F64)), true
			}
		}
	case fastfield.TypeU64:
		switch v.Kind {
		case model.KindU64:
			return v, true
		case model.KindI64:
			if v.I64 >= 0 {
				return model.U64(uint64(v.I64)), true
			}
		case model.KindF64:
			if v.F64 == math.Trunc(v.F64) && v.F64 >= 0 && v.F64 < math.MaxUint64 {
				return model.U64(uint64(v.F64)), true
			}
		}
	case fastfield.TypeF64:
		switch v.Kind {
		case model.KindF64:
			return v, true
		case model.KindI64:
			return model.F64(float64(v.I64)), true
		case model.KindU64:
			return model.F64(float64(v.U64)), true
		}
	case fastfield.TypeBool:
		switch v.Kind {
		case model.KindBool:
			return v, true
		case model.KindU64:
			if v.U64 <= 1 {
				return model.Bool(v.U64 == 1), true
			}
		}
	case fastfield.TypeDate:
		switch v.Kind {
		case model.KindDate:
			return v, true
		case model.KindI64:
			return model.Value{Kind: model.KindDate, I64: v.I64}, true
		}
	}
	return model.Null, false
}
