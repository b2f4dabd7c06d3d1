package aggregate

import (
	"fmt"

	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

// Reserved request keys.
const (
	GroupedKey        = "grouped"
	FilterSentinelKey = "filter_sentinel"
	DocCountKey       = "_doc_count"
)

// Ordering targets of a terms bucket.
const (
	OrderByKey   = "_key"
	OrderByCount = "_count"
)

// Aggregations is a named set of sibling request nodes.
type Aggregations map[string]*Aggregation

// Aggregation is one request node. Exactly one of the bucket or metric
// variants is set. Bucket variants may carry sub-aggregations.
type Aggregation struct {
	Terms  *TermsAgg    `json:"terms,omitempty"`
	Filter *query.Query `json:"filter,omitempty"`

	ValueCount *MetricAgg `json:"value_count,omitempty"`
	Sum        *MetricAgg `json:"sum,omitempty"`
	Avg        *MetricAgg `json:"avg,omitempty"`
	Min        *MetricAgg `json:"min,omitempty"`
	Max        *MetricAgg `json:"max,omitempty"`

	Aggs Aggregations `json:"aggs,omitempty"`
}

// TermsAgg groups documents by the distinct values of Field.
type TermsAgg struct {
	Field       string `json:"field"`
	Size        uint32 `json:"size"`
	SegmentSize uint32 `json:"segment_size"`
	// Order maps OrderByKey or OrderByCount to "asc" or "desc". Empty means
	// by count descending.
	Order map[string]string `json:"order,omitempty"`
}

// MetricAgg computes a single number over Field.
type MetricAgg struct {
	Field   string   `json:"field"`
	Missing *float64 `json:"missing,omitempty"`
}

// MetricKind identifies the metric variant of a node.
type MetricKind uint8

const (
	MetricNone MetricKind = iota
	MetricValueCount
	MetricSum
	MetricAvg
	MetricMin
	MetricMax
)

// Metric returns the metric variant of n, if any.
func (n *Aggregation) Metric() (MetricKind, *MetricAgg) {
	switch {
	case n.ValueCount != nil:
		return MetricValueCount, n.ValueCount
	case n.Sum != nil:
		return MetricSum, n.Sum
	case n.Avg != nil:
		return MetricAvg, n.Avg
	case n.Min != nil:
		return MetricMin, n.Min
	case n.Max != nil:
		return MetricMax, n.Max
	}
	return MetricNone, nil
}

// Validate checks that n sets exactly one variant and that metrics carry no
// sub-aggregations.
func (n *Aggregation) Validate() error {
	if n == nil {
		return model.Usagef("aggregate.Validate", "nil aggregation")
	}
	count := 0
	for _, set := range []bool{n.Terms != nil, n.Filter != nil, n.ValueCount != nil, n.Sum != nil, n.Avg != nil, n.Min != nil, n.Max != nil} {
		if set {
			count++
		}
	}
	if count != 1 {
		return model.Usagef("aggregate.Validate", "aggregation sets %d variants, want exactly one", count)
	}
	if kind, m := n.Metric(); kind != MetricNone {
		if m.Field == "" {
			return model.Usagef("aggregate.Validate", "metric without field")
		}
		if len(n.Aggs) > 0 {
			return model.Usagef("aggregate.Validate", "metric aggregations cannot have sub-aggregations")
		}
	}
	if n.Terms != nil {
		if n.Terms.Field == "" {
			return model.Usagef("aggregate.Validate", "terms without field")
		}
		for target, dir := range n.Terms.Order {
			if target != OrderByKey && target != OrderByCount {
				return model.Usagef("aggregate.Validate", "unknown terms order target %q", target)
			}
			if dir != "asc" && dir != "desc" {
				return model.Usagef("aggregate.Validate", "unknown terms order direction %q", dir)
			}
		}
	}
	if n.Filter != nil {
		if err := n.Filter.Validate(); err != nil {
			return model.Wrap(model.UsageError, "aggregate.Validate", err)
		}
	}
	return n.Aggs.Validate()
}

// Validate validates every node of the set.
func (a Aggregations) Validate() error {
	for name, n := range a {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("aggregation %q: %w", name, err)
		}
	}
	return nil
}

// depth returns the number of terms levels along the deepest chain.
func (a Aggregations) depth() int {
	d := 0
	for _, n := range a {
		nd := n.Aggs.depth()
		if n.Terms != nil {
			nd++
		}
		d = max(d, nd)
	}
	return d
}
