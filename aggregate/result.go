package aggregate

import (
	"math"

	"github.com/hupe1980/searchexec/model"
)

// Results is a named set of sibling result nodes, isomorphic to the
// Aggregations that produced it.
type Results map[string]*Result

// Result is one result node. Exactly one variant is set.
type Result struct {
	Metric *MetricResult
	Terms  *TermsResult
	Filter *FilterResult
}

// MetricResult is the mergeable state of a single-value metric.
type MetricResult struct {
	Kind  MetricKind
	Count uint64
	Sum   float64
	Min   float64
	Max   float64
}

// NewMetricResult returns an empty accumulator of kind.
func NewMetricResult(kind MetricKind) *MetricResult {
	return &MetricResult{Kind: kind, Min: math.Inf(1), Max: math.Inf(-1)}
}

// Add accumulates one value.
func (m *MetricResult) Add(v float64) {
	m.Count++
	m.Sum += v
	m.Min = math.Min(m.Min, v)
	m.Max = math.Max(m.Max, v)
}

// Merge folds o into m.
func (m *MetricResult) Merge(o *MetricResult) {
	if o == nil {
		return
	}
	m.Count += o.Count
	m.Sum += o.Sum
	m.Min = math.Min(m.Min, o.Min)
	m.Max = math.Max(m.Max, o.Max)
}

// Value is the final metric value. Value counts are never null; every other
// metric over zero values is null.
func (m *MetricResult) Value() (float64, bool) {
	switch m.Kind {
	case MetricValueCount:
		return float64(m.Count), true
	case MetricSum:
		if m.Count == 0 {
			return 0, false
		}
		return m.Sum, true
	case MetricAvg:
		if m.Count == 0 {
			return 0, false
		}
		return m.Sum / float64(m.Count), true
	case MetricMin:
		if m.Count == 0 {
			return 0, false
		}
		return m.Min, true
	case MetricMax:
		if m.Count == 0 {
			return 0, false
		}
		return m.Max, true
	}
	return 0, false
}

// TermsResult holds the buckets of a terms aggregation.
type TermsResult struct {
	Buckets []*Bucket
	// SumOtherDocCount counts documents in buckets cut by the size limit.
	SumOtherDocCount uint64
}

// Bucket is one group of a terms aggregation.
type Bucket struct {
	Key      model.Value
	DocCount uint64
	Sub      Results
}

// FilterResult is the single bucket of a filter aggregation.
type FilterResult struct {
	DocCount uint64
	Sub      Results
}

// Clone returns a deep copy of rs.
func (rs Results) Clone() Results {
	if rs == nil {
		return nil
	}
	out := make(Results, len(rs))
	for name, r := range rs {
		out[name] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := &Result{}
	switch {
	case r.Metric != nil:
		m := *r.Metric
		c.Metric = &m
	case r.Terms != nil:
		t := &TermsResult{SumOtherDocCount: r.Terms.SumOtherDocCount, Buckets: make([]*Bucket, len(r.Terms.Buckets))}
		for i, b := range r.Terms.Buckets {
			t.Buckets[i] = &Bucket{Key: b.Key, DocCount: b.DocCount, Sub: b.Sub.Clone()}
		}
		c.Terms = t
	case r.Filter != nil:
		c.Filter = &FilterResult{DocCount: r.Filter.DocCount, Sub: r.Filter.Sub.Clone()}
	}
	return c
}

// Structured renders r as a JSON-compatible value: metrics as
// {"value": v}, terms as {"buckets": [...]}, filters as {"doc_count": n, ...}.
func (r *Result) Structured() any {
	switch {
	case r == nil:
		return nil
	case r.Metric != nil:
		if v, ok := r.Metric.Value(); ok {
			return map[string]any{"value": v}
		}
		return map[string]any{"value": nil}
	case r.Terms != nil:
		buckets := make([]any, 0, len(r.Terms.Buckets))
		for _, b := range r.Terms.Buckets {
			m := b.Sub.structured()
			m["key"] = b.Key.Any()
			m["doc_count"] = b.DocCount
			buckets = append(buckets, m)
		}
		return map[string]any{
			"buckets":             buckets,
			"sum_other_doc_count": r.Terms.SumOtherDocCount,
		}
	case r.Filter != nil:
		m := r.Filter.Sub.structured()
		m["doc_count"] = r.Filter.DocCount
		return m
	}
	return nil
}

func (rs Results) structured() map[string]any {
	m := make(map[string]any, len(rs)+2)
	for name, r := range rs {
		m[name] = r.Structured()
	}
	return m
}

// ValueKind tags a flattened aggregate Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueScalar
	ValueStructured
)

// Value is one flattened aggregate result: NULL, a number, or an opaque
// structured value for custom aggregates.
type Value struct {
	Kind       ValueKind
	Scalar     float64
	Structured any
}

func NullValue() Value       { return Value{} }
func Scalar(v float64) Value { return Value{Kind: ValueScalar, Scalar: v} }
func Structured(v any) Value { return Value{Kind: ValueStructured, Structured: v} }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Any returns nil, the float64 or the structured value.
func (v Value) Any() any {
	switch v.Kind {
	case ValueScalar:
		return v.Scalar
	case ValueStructured:
		return v.Structured
	}
	return nil
}

// Row is one flattened output row: group keys in GROUP BY order, then one
// value per aggregate in declaration order.
type Row struct {
	GroupKeys  []model.Value
	Aggregates []Value
	// DocCount is the number of documents in the group, when known.
	DocCount *uint64
}
