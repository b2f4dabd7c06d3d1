package aggregate

import (
	"fmt"

	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

// CtidField is the row-key column counted by COUNT(*).
const CtidField = "ctid"

// Kind tags an AggregateType.
type Kind uint8

const (
	KindCountAny Kind = iota + 1
	KindCount
	KindSum
	KindAvg
	KindMin
	KindMax
	KindCustom
)

// MVCC controls whether an aggregate only sees rows visible to the snapshot.
type MVCC uint8

const (
	MVCCEnabled MVCC = iota
	MVCCDisabled
)

// AggregateType is one SQL aggregate of a query.
type AggregateType struct {
	Kind Kind
	// Field is the aggregated column for Count, Sum, Avg, Min and Max.
	Field string
	// Missing substitutes documents without a value.
	Missing *float64
	// Filter restricts the aggregate to matching documents (FILTER (WHERE ...)).
	Filter *query.Query
	// JSON is the request of a Custom aggregate, in Aggregation form.
	JSON []byte
	// MVCC applies to Custom aggregates only.
	MVCC MVCC
}

func CountAny() AggregateType          { return AggregateType{Kind: KindCountAny} }
func Count(field string) AggregateType { return AggregateType{Kind: KindCount, Field: field} }
func Sum(field string) AggregateType   { return AggregateType{Kind: KindSum, Field: field} }
func Avg(field string) AggregateType   { return AggregateType{Kind: KindAvg, Field: field} }
func Min(field string) AggregateType   { return AggregateType{Kind: KindMin, Field: field} }
func Max(field string) AggregateType   { return AggregateType{Kind: KindMax, Field: field} }
func Custom(json []byte) AggregateType { return AggregateType{Kind: KindCustom, JSON: json} }

// WithFilter returns a copy of a restricted to documents matching q.
func (a AggregateType) WithFilter(q query.Query) AggregateType {
	a.Filter = &q
	return a
}

// WithMissing returns a copy of a that substitutes v for missing values.
func (a AggregateType) WithMissing(v float64) AggregateType {
	a.Missing = &v
	return a
}

// WithMVCC returns a copy of a with the given visibility setting.
func (a AggregateType) WithMVCC(m MVCC) AggregateType {
	a.MVCC = m
	return a
}

// SolveMVCC reports whether aggs should only see visible rows. Only custom
// aggregates may disable it, and they must agree.
func SolveMVCC(aggs []AggregateType) (bool, error) {
	var enabled, disabled bool
	for _, a := range aggs {
		if a.Kind != KindCustom {
			continue
		}
		if a.MVCC == MVCCDisabled {
			disabled = true
		} else {
			enabled = true
		}
	}
	if enabled && disabled {
		return false, model.Usagef("aggregate.SolveMVCC", "custom aggregates mix MVCC enabled and disabled")
	}
	return !disabled, nil
}

// HasFilter reports whether a carries a FILTER clause.
func (a AggregateType) HasFilter() bool { return a.Filter != nil }

// CanUseDocCount reports whether a is answered by bucket document counts.
func (a AggregateType) CanUseDocCount() bool {
	return a.Kind == KindCountAny && a.Filter == nil
}

// Nullish is the value of a over an empty input: 0 for counts, NULL
// otherwise.
func (a AggregateType) Nullish() Value {
	switch a.Kind {
	case KindCountAny, KindCount:
		return Scalar(0)
	default:
		return NullValue()
	}
}

// Validate checks the fields required by the kind.
func (a AggregateType) Validate() error {
	switch a.Kind {
	case KindCountAny:
	case KindCount, KindSum, KindAvg, KindMin, KindMax:
		if a.Field == "" {
			return model.Usagef("aggregate.Validate", "%s requires a field", a)
		}
	case KindCustom:
		if len(a.JSON) == 0 {
			return model.Usagef("aggregate.Validate", "custom aggregate without a request")
		}
	default:
		return model.Usagef("aggregate.Validate", "unknown aggregate kind %d", a.Kind)
	}
	if a.Filter != nil {
		if err := a.Filter.Validate(); err != nil {
			return model.Wrap(model.UsageError, "aggregate.Validate", err)
		}
	}
	return nil
}

// Request returns the metric request node computing a.
func (a AggregateType) Request(c codec.Codec) (*Aggregation, error) {
	m := &MetricAgg{Field: a.Field, Missing: a.Missing}
	switch a.Kind {
	case KindCountAny:
		return &Aggregation{ValueCount: &MetricAgg{Field: CtidField}}, nil
	case KindCount:
		return &Aggregation{ValueCount: m}, nil
	case KindSum:
		return &Aggregation{Sum: m}, nil
	case KindAvg:
		return &Aggregation{Avg: m}, nil
	case KindMin:
		return &Aggregation{Min: m}, nil
	case KindMax:
		return &Aggregation{Max: m}, nil
	case KindCustom:
		var node Aggregation
		if err := codec.Or(c).Unmarshal(a.JSON, &node); err != nil {
			return nil, model.Wrap(model.UsageError, "aggregate.Request", fmt.Errorf("decode custom aggregate: %w", err))
		}
		if err := node.Validate(); err != nil {
			return nil, err
		}
		return &node, nil
	default:
		return nil, model.Usagef("aggregate.Request", "unknown aggregate kind %d", a.Kind)
	}
}

func (a AggregateType) String() string {
	switch a.Kind {
	case KindCountAny:
		return "COUNT(*)"
	case KindCount:
		return fmt.Sprintf("COUNT(%s)", a.Field)
	case KindSum:
		return fmt.Sprintf("SUM(%s)", a.Field)
	case KindAvg:
		return fmt.Sprintf("AVG(%s)", a.Field)
	case KindMin:
		return fmt.Sprintf("MIN(%s)", a.Field)
	case KindMax:
		return fmt.Sprintf("MAX(%s)", a.Field)
	case KindCustom:
		return fmt.Sprintf("CUSTOM_AGG(%s)", a.JSON)
	default:
		return "UNKNOWN"
	}
}
