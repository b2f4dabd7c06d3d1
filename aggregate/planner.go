package aggregate

import (
	"strconv"

	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

// DefaultMaxTermAggBuckets bounds terms sizes when no LIMIT is known.
const DefaultMaxTermAggBuckets = 65000

// Shape is the request layout chosen for a clause.
type Shape uint8

const (
	// ShapeUngrouped is a flat map of metric leaves.
	ShapeUngrouped Shape = iota + 1
	// ShapeUngroupedFiltered wraps every metric leaf in its own filter bucket.
	ShapeUngroupedFiltered
	// ShapeGrouped nests metric leaves under one terms level per GROUP BY
	// column.
	ShapeGrouped
	// ShapeGroupedFiltered gives every aggregate a filter bucket holding a
	// full grouping subtree, all below a sentinel filter on the base query.
	ShapeGroupedFiltered
)

func (s Shape) String() string {
	switch s {
	case ShapeUngrouped:
		return "ungrouped"
	case ShapeUngroupedFiltered:
		return "ungrouped_filtered"
	case ShapeGrouped:
		return "grouped"
	case ShapeGroupedFiltered:
		return "grouped_filtered"
	}
	return "unknown"
}

// GroupingColumn is one GROUP BY column and its declared type.
type GroupingColumn struct {
	Field string              `json:"field" yaml:"field"`
	Type  fastfield.FieldType `json:"type" yaml:"type"`
}

// Clause is the aggregation part of a query.
type Clause struct {
	// Query is the base predicate of the scan.
	Query      query.Query
	GroupBy    []GroupingColumn
	Aggregates []AggregateType
	OrderBy    []model.OrderBy
	Limit      *uint32
	Offset     *uint32
}

// Grouped reports whether the clause has GROUP BY columns.
func (c *Clause) Grouped() bool { return len(c.GroupBy) > 0 }

// HasFilters reports whether any aggregate carries a FILTER clause.
func (c *Clause) HasFilters() bool {
	for _, a := range c.Aggregates {
		if a.HasFilter() {
			return true
		}
	}
	return false
}

// Settings tune planning.
type Settings struct {
	// MaxTermAggBuckets caps terms sizes. Zero selects the default.
	MaxTermAggBuckets uint32
	// AddDocCount adds a hidden document count to ungrouped requests so that
	// empty inputs can be told apart from zero-valued ones.
	AddDocCount bool
	// Codec decodes custom aggregates. Nil selects codec.Default.
	Codec codec.Codec
}

// Plan is a validated clause and its request tree.
type Plan struct {
	Shape        Shape
	Clause       Clause
	Aggregations Aggregations
	// HasDocCount is set when the hidden DocCountKey metric was added.
	HasDocCount bool
}

// NewPlan validates c and builds its request tree.
func NewPlan(c Clause, s Settings) (*Plan, error) {
	if err := validateClause(&c); err != nil {
		return nil, err
	}
	if s.MaxTermAggBuckets == 0 {
		s.MaxTermAggBuckets = DefaultMaxTermAggBuckets
	}

	b := &builder{clause: &c, settings: s}
	p := &Plan{Clause: c}
	var err error
	switch {
	case !c.Grouped() && !c.HasFilters():
		p.Shape = ShapeUngrouped
		p.Aggregations, err = b.ungrouped(false)
	case !c.Grouped():
		p.Shape = ShapeUngroupedFiltered
		p.Aggregations, err = b.ungrouped(true)
	case !c.HasFilters():
		p.Shape = ShapeGrouped
		p.Aggregations, err = b.grouped()
	default:
		p.Shape = ShapeGroupedFiltered
		p.Aggregations, err = b.groupedFiltered()
	}
	if err != nil {
		return nil, err
	}
	if !c.Grouped() && s.AddDocCount {
		p.Aggregations[DocCountKey] = &Aggregation{ValueCount: &MetricAgg{Field: CtidField}}
		p.HasDocCount = true
	}
	return p, nil
}

func validateClause(c *Clause) error {
	const op = "aggregate.NewPlan"
	if len(c.Aggregates) == 0 && len(c.GroupBy) == 0 {
		return model.Usagef(op, "nothing to aggregate")
	}
	if c.Limit != nil && c.Offset != nil && uint64(*c.Limit)+uint64(*c.Offset) > uint64(^uint32(0)) {
		return model.Usagef(op, "limit %d plus offset %d overflows", *c.Limit, *c.Offset)
	}
	if err := c.Query.Validate(); err != nil {
		return model.Wrap(model.UsageError, op, err)
	}
	for _, g := range c.GroupBy {
		if g.Field == "" {
			return model.Usagef(op, "grouping column without field")
		}
	}
	for _, a := range c.Aggregates {
		if err := a.Validate(); err != nil {
			return err
		}
		if a.Kind == KindCustom && a.MVCC == MVCCDisabled && len(c.GroupBy) > 0 {
			return model.Usagef(op, "%s disables MVCC filtering, which is not supported with GROUP BY", a)
		}
	}
	return nil
}

type builder struct {
	clause   *Clause
	settings Settings
}

func (b *builder) metric(a AggregateType) (*Aggregation, error) {
	return a.Request(b.settings.Codec)
}

func filterOf(a AggregateType) *query.Query {
	if a.Filter != nil {
		f := *a.Filter
		return &f
	}
	all := query.MatchAll()
	return &all
}

func (b *builder) ungrouped(wrap bool) (Aggregations, error) {
	aggs := make(Aggregations, len(b.clause.Aggregates)+1)
	for i, a := range b.clause.Aggregates {
		m, err := b.metric(a)
		if err != nil {
			return nil, err
		}
		if wrap {
			m = &Aggregation{Filter: filterOf(a), Aggs: Aggregations{"0": m}}
		}
		aggs[strconv.Itoa(i)] = m
	}
	return aggs, nil
}

// leafMetrics returns the metrics nested below the innermost grouping
// level, keyed by declaration index. COUNT(*) without a filter is served by
// bucket document counts and omitted.
func (b *builder) leafMetrics() (Aggregations, error) {
	var leaf Aggregations
	for i, a := range b.clause.Aggregates {
		if a.CanUseDocCount() {
			continue
		}
		m, err := b.metric(a)
		if err != nil {
			return nil, err
		}
		if leaf == nil {
			leaf = make(Aggregations)
		}
		leaf[strconv.Itoa(i)] = m
	}
	return leaf, nil
}

func (b *builder) grouped() (Aggregations, error) {
	leaf, err := b.leafMetrics()
	if err != nil {
		return nil, err
	}
	return b.groupingTree(leaf), nil
}

// groupingTree nests leaf under one terms level per grouping column, built
// innermost-first so that the first column is the outermost level.
func (b *builder) groupingTree(leaf Aggregations) Aggregations {
	size := b.termsSize()
	sub := leaf
	for i := len(b.clause.GroupBy) - 1; i >= 0; i-- {
		col := b.clause.GroupBy[i]
		terms := &TermsAgg{Field: col.Field, Size: size, SegmentSize: size}
		if dir, ok := b.orderFor(col.Field); ok {
			terms.Order = map[string]string{OrderByKey: dir.String()}
		}
		sub = Aggregations{GroupedKey: &Aggregation{Terms: terms, Aggs: sub}}
	}
	return sub
}

func (b *builder) groupedFiltered() (Aggregations, error) {
	base := b.clause.Query
	sentinel := &Aggregation{
		Filter: &base,
		Aggs:   b.groupingTree(nil),
	}
	for i, a := range b.clause.Aggregates {
		if a.CanUseDocCount() {
			continue
		}
		m, err := b.metric(a)
		if err != nil {
			return nil, err
		}
		sentinel.Aggs[strconv.Itoa(i)] = &Aggregation{
			Filter: filterOf(a),
			Aggs:   b.groupingTree(Aggregations{"0": m}),
		}
	}
	return Aggregations{FilterSentinelKey: sentinel}, nil
}

func (b *builder) termsSize() uint32 {
	maxBuckets := b.settings.MaxTermAggBuckets
	if b.clause.Limit == nil {
		return maxBuckets
	}
	n := uint64(*b.clause.Limit)
	if b.clause.Offset != nil {
		n += uint64(*b.clause.Offset)
	}
	return uint32(min(n, uint64(maxBuckets)))
}

func (b *builder) orderFor(field string) (model.Direction, bool) {
	for _, o := range b.clause.OrderBy {
		if o.Field == field {
			return o.Direction, true
		}
	}
	return model.Asc, false
}

// Explain renders the request tree as indented JSON. Map keys are sorted.
func (p *Plan) Explain(c codec.Codec) ([]byte, error) {
	return codec.Indent(c, p.Aggregations)
}
