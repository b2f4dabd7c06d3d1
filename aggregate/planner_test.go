package aggregate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

func u32(v uint32) *uint32 { return &v }

func groupCols(fields ...string) []GroupingColumn {
	cols := make([]GroupingColumn, len(fields))
	for i, f := range fields {
		cols[i] = GroupingColumn{Field: f, Type: fastfield.TypeStr}
	}
	return cols
}

func TestNewPlan_Ungrouped(t *testing.T) {
	p, err := NewPlan(Clause{
		Aggregates: []AggregateType{CountAny(), Sum("price"), Avg("price").WithMissing(0)},
	}, Settings{AddDocCount: true})
	require.NoError(t, err)

	assert.Equal(t, ShapeUngrouped, p.Shape)
	assert.True(t, p.HasDocCount)
	require.Len(t, p.Aggregations, 4)
	assert.Equal(t, &MetricAgg{Field: CtidField}, p.Aggregations["0"].ValueCount)
	assert.Equal(t, "price", p.Aggregations["1"].Sum.Field)
	require.NotNil(t, p.Aggregations["2"].Avg.Missing)
	assert.Equal(t, 0.0, *p.Aggregations["2"].Avg.Missing)
	assert.NotNil(t, p.Aggregations[DocCountKey].ValueCount)
}

func TestNewPlan_UngroupedFiltered(t *testing.T) {
	inStock := query.Term("in_stock", true)
	p, err := NewPlan(Clause{
		Aggregates: []AggregateType{CountAny(), Sum("price").WithFilter(inStock)},
	}, Settings{})
	require.NoError(t, err)

	assert.Equal(t, ShapeUngroupedFiltered, p.Shape)
	assert.False(t, p.HasDocCount)

	// Unfiltered aggregates get an always-true filter bucket.
	all := p.Aggregations["0"]
	require.NotNil(t, all.Filter)
	assert.True(t, all.Filter.IsMatchAll())
	assert.NotNil(t, all.Aggs["0"].ValueCount)

	filtered := p.Aggregations["1"]
	assert.Equal(t, inStock, *filtered.Filter)
	assert.Equal(t, "price", filtered.Aggs["0"].Sum.Field)
}

func TestNewPlan_Grouped(t *testing.T) {
	p, err := NewPlan(Clause{
		GroupBy:    groupCols("category", "brand"),
		Aggregates: []AggregateType{CountAny(), Max("price")},
		OrderBy:    []model.OrderBy{{Field: "brand", Direction: model.Desc}},
		Limit:      u32(10),
		Offset:     u32(5),
	}, Settings{MaxTermAggBuckets: 100, AddDocCount: true})
	require.NoError(t, err)

	assert.Equal(t, ShapeGrouped, p.Shape)
	assert.False(t, p.HasDocCount)
	assert.Equal(t, 2, p.Aggregations.depth())

	outer := p.Aggregations[GroupedKey]
	require.NotNil(t, outer.Terms)
	assert.Equal(t, "category", outer.Terms.Field)
	assert.Equal(t, uint32(15), outer.Terms.Size)
	assert.Equal(t, uint32(15), outer.Terms.SegmentSize)
	assert.Nil(t, outer.Terms.Order)

	inner := outer.Aggs[GroupedKey]
	require.NotNil(t, inner.Terms)
	assert.Equal(t, "brand", inner.Terms.Field)
	assert.Equal(t, map[string]string{OrderByKey: "desc"}, inner.Terms.Order)

	// COUNT(*) is answered by doc_count; only MAX is a leaf metric.
	require.Len(t, inner.Aggs, 1)
	assert.Equal(t, "price", inner.Aggs["1"].Max.Field)
}

func TestNewPlan_TermsSize(t *testing.T) {
	tests := []struct {
		name   string
		limit  *uint32
		offset *uint32
		want   uint32
	}{
		{"no limit", nil, nil, 100},
		{"limit", u32(7), nil, 7},
		{"limit and offset", u32(7), u32(3), 10},
		{"offset past limit", u32(2), u32(5), 7},
		{"capped", u32(90), u32(20), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlan(Clause{GroupBy: groupCols("a"), Limit: tt.limit, Offset: tt.offset}, Settings{MaxTermAggBuckets: 100})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Aggregations[GroupedKey].Terms.Size)
		})
	}
}

func TestNewPlan_GroupedFiltered(t *testing.T) {
	base := query.Range("price", 0, nil)
	inStock := query.Term("in_stock", true)
	p, err := NewPlan(Clause{
		Query:      base,
		GroupBy:    groupCols("category", "brand"),
		Aggregates: []AggregateType{CountAny(), Sum("price").WithFilter(inStock), Count("price")},
	}, Settings{})
	require.NoError(t, err)

	assert.Equal(t, ShapeGroupedFiltered, p.Shape)
	require.Len(t, p.Aggregations, 1)
	sentinel := p.Aggregations[FilterSentinelKey]
	require.NotNil(t, sentinel.Filter)
	assert.Equal(t, base, *sentinel.Filter)

	// Shared grouping subtree without metrics, plus one filter bucket per
	// aggregate not served by doc_count.
	require.Len(t, sentinel.Aggs, 3)
	shared := sentinel.Aggs[GroupedKey]
	assert.Nil(t, shared.Aggs[GroupedKey].Aggs)

	sum := sentinel.Aggs["1"]
	assert.Equal(t, inStock, *sum.Filter)
	leaf := sum.Aggs[GroupedKey].Aggs[GroupedKey].Aggs
	assert.Equal(t, "price", leaf["0"].Sum.Field)

	count := sentinel.Aggs["2"]
	assert.True(t, count.Filter.IsMatchAll())
	assert.NotNil(t, count.Aggs[GroupedKey].Aggs[GroupedKey].Aggs["0"].ValueCount)
}

func TestNewPlan_Custom(t *testing.T) {
	p, err := NewPlan(Clause{
		Aggregates: []AggregateType{Custom([]byte(`{"terms":{"field":"category","size":3,"segment_size":3}}`))},
	}, Settings{Codec: codec.JSON{}})
	require.NoError(t, err)
	assert.Equal(t, "category", p.Aggregations["0"].Terms.Field)

	_, err = NewPlan(Clause{Aggregates: []AggregateType{Custom([]byte(`{"terms":`))}}, Settings{})
	assert.ErrorIs(t, err, model.ErrUsage)

	_, err = NewPlan(Clause{Aggregates: []AggregateType{Custom([]byte(`{"sum":{"field":"a"},"avg":{"field":"b"}}`))}}, Settings{})
	assert.ErrorIs(t, err, model.ErrUsage)
}

func TestNewPlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		clause Clause
	}{
		{"empty", Clause{}},
		{"missing field", Clause{Aggregates: []AggregateType{Sum("")}}},
		{"custom without mvcc and group by", Clause{
			GroupBy:    groupCols("a"),
			Aggregates: []AggregateType{Custom([]byte(`{"sum":{"field":"x"}}`)).WithMVCC(MVCCDisabled)},
		}},
		{"grouping column without field", Clause{GroupBy: []GroupingColumn{{Type: fastfield.TypeStr}}}},
		{"invalid base query", Clause{Query: query.Query{Exists: "a", All: true}, Aggregates: []AggregateType{CountAny()}}},
		{"overflow", Clause{GroupBy: groupCols("a"), Limit: u32(^uint32(0)), Offset: u32(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.clause, Settings{})
			require.Error(t, err)
			assert.Equal(t, model.UsageError, model.KindOf(err))
		})
	}
}

func TestPlan_Explain(t *testing.T) {
	p, err := NewPlan(Clause{
		GroupBy:    groupCols("category"),
		Aggregates: []AggregateType{Avg("price")},
		Limit:      u32(3),
	}, Settings{})
	require.NoError(t, err)

	out, err := p.Explain(nil)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Contains(t, decoded, GroupedKey)

	s := string(out)
	assert.Contains(t, s, `"size": 3`)
	// Struct fields keep declaration order.
	assert.Less(t, strings.Index(s, `"terms"`), strings.Index(s, `"aggs"`))
	assert.Less(t, strings.Index(s, `"size"`), strings.Index(s, `"segment_size"`))
}

func TestAggregateType(t *testing.T) {
	assert.True(t, CountAny().CanUseDocCount())
	assert.False(t, CountAny().WithFilter(query.Exists("a")).CanUseDocCount())
	assert.False(t, Count("a").CanUseDocCount())

	assert.Equal(t, Scalar(0), Count("a").Nullish())
	assert.Equal(t, Scalar(0), CountAny().Nullish())
	assert.True(t, Sum("a").Nullish().IsNull())
	assert.True(t, Custom([]byte(`{}`)).Nullish().IsNull())

	assert.Equal(t, "SUM(price)", Sum("price").String())
	assert.Equal(t, "COUNT(*)", CountAny().String())
}
