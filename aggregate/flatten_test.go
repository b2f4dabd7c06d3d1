package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

func metric(kind MetricKind, values ...float64) *Result {
	m := NewMetricResult(kind)
	for _, v := range values {
		m.Add(v)
	}
	return &Result{Metric: m}
}

func terms(buckets ...*Bucket) *Result {
	return &Result{Terms: &TermsResult{Buckets: buckets}}
}

func bucket(key model.Value, n uint64, sub Results) *Bucket {
	return &Bucket{Key: key, DocCount: n, Sub: sub}
}

func filter(n uint64, sub Results) *Result {
	return &Result{Filter: &FilterResult{DocCount: n, Sub: sub}}
}

func scalars(row Row) []any {
	out := make([]any, len(row.Aggregates))
	for i, v := range row.Aggregates {
		out[i] = v.Any()
	}
	return out
}

func TestFlatten_Ungrouped(t *testing.T) {
	p, err := NewPlan(Clause{Aggregates: []AggregateType{CountAny(), Sum("price"), Min("price")}}, Settings{AddDocCount: true})
	require.NoError(t, err)

	t.Run("values", func(t *testing.T) {
		rows, err := p.Flatten(Results{
			"0":         metric(MetricValueCount, 1, 1, 1),
			"1":         metric(MetricSum, 1.5, 2),
			"2":         metric(MetricMin, 1.5, 2),
			DocCountKey: metric(MetricValueCount, 1, 1, 1),
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []any{3.0, 3.5, 1.5}, scalars(rows[0]))
		require.NotNil(t, rows[0].DocCount)
		assert.Equal(t, uint64(3), *rows[0].DocCount)
		assert.Empty(t, rows[0].GroupKeys)
	})

	t.Run("empty input", func(t *testing.T) {
		rows, err := p.Flatten(Results{
			"0":         metric(MetricValueCount),
			"1":         metric(MetricSum),
			"2":         metric(MetricMin),
			DocCountKey: metric(MetricValueCount),
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []any{0.0, nil, nil}, scalars(rows[0]))
	})

	t.Run("missing results", func(t *testing.T) {
		rows, err := p.Flatten(Results{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []any{0.0, nil, nil}, scalars(rows[0]))
	})
}

func TestFlatten_UngroupedFiltered(t *testing.T) {
	p, err := NewPlan(Clause{Aggregates: []AggregateType{
		CountAny(),
		Sum("price").WithFilter(query.Term("in_stock", true)),
		Avg("price").WithFilter(query.Term("in_stock", true)),
	}}, Settings{})
	require.NoError(t, err)

	rows, err := p.Flatten(Results{
		"0": filter(4, Results{"0": metric(MetricValueCount, 1, 1, 1, 1)}),
		"1": filter(0, Results{"0": metric(MetricSum)}),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{4.0, nil, nil}, scalars(rows[0]))
	assert.Nil(t, rows[0].DocCount)
}

func TestFlatten_Custom(t *testing.T) {
	p, err := NewPlan(Clause{Aggregates: []AggregateType{
		Custom([]byte(`{"terms":{"field":"category","size":10,"segment_size":10}}`)),
	}}, Settings{})
	require.NoError(t, err)

	rows, err := p.Flatten(Results{
		"0": terms(bucket(model.Str("a"), 2, Results{}), bucket(model.Str("b"), 1, Results{})),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	v := rows[0].Aggregates[0]
	require.Equal(t, ValueStructured, v.Kind)
	m, ok := v.Structured.(map[string]any)
	require.True(t, ok)
	buckets, ok := m["buckets"].([]any)
	require.True(t, ok)
	require.Len(t, buckets, 2)
	assert.Equal(t, "a", buckets[0].(map[string]any)["key"])
	assert.Equal(t, uint64(2), buckets[0].(map[string]any)["doc_count"])
}

func TestFlatten_Grouped(t *testing.T) {
	p, err := NewPlan(Clause{
		GroupBy: []GroupingColumn{
			{Field: "category", Type: fastfield.TypeStr},
			{Field: "year", Type: fastfield.TypeI64},
		},
		Aggregates: []AggregateType{CountAny(), Avg("price")},
	}, Settings{})
	require.NoError(t, err)

	res := Results{GroupedKey: terms(
		bucket(model.Str("books"), 3, Results{GroupedKey: terms(
			// Numeric keys may come back as f64.
			bucket(model.F64(2020), 2, Results{"1": metric(MetricAvg, 10, 20)}),
			bucket(model.F64(2021), 1, Results{"1": metric(MetricAvg, 5)}),
		)}),
		bucket(model.Str("games"), 1, Results{GroupedKey: terms()}),
	)}

	rows, err := p.Flatten(res)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []model.Value{model.Str("books"), model.I64(2020)}, rows[0].GroupKeys)
	assert.Equal(t, []any{2.0, 15.0}, scalars(rows[0]))

	assert.Equal(t, []model.Value{model.Str("books"), model.I64(2021)}, rows[1].GroupKeys)
	assert.Equal(t, []any{1.0, 5.0}, scalars(rows[1]))

	// An empty nested level pads the path with NULL.
	assert.Equal(t, []model.Value{model.Str("games"), model.Null}, rows[2].GroupKeys)
	assert.Equal(t, []any{1.0, nil}, scalars(rows[2]))
	assert.Equal(t, uint64(1), *rows[2].DocCount)
}

func TestFlatten_GroupedEmpty(t *testing.T) {
	p, err := NewPlan(Clause{GroupBy: []GroupingColumn{{Field: "category", Type: fastfield.TypeStr}}}, Settings{})
	require.NoError(t, err)

	rows, err := p.Flatten(Results{GroupedKey: terms()})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = p.Flatten(Results{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFlatten_GroupedFiltered(t *testing.T) {
	p, err := NewPlan(Clause{
		GroupBy: []GroupingColumn{
			{Field: "category", Type: fastfield.TypeStr},
			{Field: "brand", Type: fastfield.TypeStr},
		},
		Aggregates: []AggregateType{
			CountAny(),
			Sum("price").WithFilter(query.Term("in_stock", true)),
		},
	}, Settings{})
	require.NoError(t, err)
	require.Equal(t, ShapeGroupedFiltered, p.Shape)

	res := Results{FilterSentinelKey: filter(4, Results{
		GroupedKey: terms(
			bucket(model.Str("a"), 3, Results{GroupedKey: terms(
				bucket(model.Str("x"), 2, nil),
				bucket(model.Str("y"), 1, nil),
			)}),
			bucket(model.Str("b"), 1, Results{GroupedKey: terms(
				bucket(model.Str("x"), 1, nil),
			)}),
		),
		// Group (b, x) has no in-stock rows and is absent from the filter bucket.
		"1": filter(2, Results{GroupedKey: terms(
			bucket(model.Str("a"), 2, Results{GroupedKey: terms(
				bucket(model.Str("x"), 1, Results{"0": metric(MetricSum, 10)}),
				bucket(model.Str("y"), 1, Results{"0": metric(MetricSum, 5)}),
			)}),
		)}),
	})}

	rows, err := p.Flatten(res)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	want := []struct {
		keys []model.Value
		aggs []any
	}{
		{[]model.Value{model.Str("a"), model.Str("x")}, []any{2.0, 10.0}},
		{[]model.Value{model.Str("a"), model.Str("y")}, []any{1.0, 5.0}},
		{[]model.Value{model.Str("b"), model.Str("x")}, []any{1.0, nil}},
	}
	for i, w := range want {
		assert.Equal(t, w.keys, rows[i].GroupKeys, "row %d", i)
		assert.Equal(t, w.aggs, scalars(rows[i]), "row %d", i)
	}
}

func TestTypedKey(t *testing.T) {
	tests := []struct {
		name string
		in   model.Value
		typ  fastfield.FieldType
		want model.Value
		ok   bool
	}{
		{"str", model.Str("a"), fastfield.TypeStr, model.Str("a"), true},
		{"bytes as str", model.Bytes([]byte("a")), fastfield.TypeStr, model.Str("a"), true},
		{"lossless f64 to i64", model.F64(-3), fastfield.TypeI64, model.I64(-3), true},
		{"fractional f64 to i64", model.F64(1.5), fastfield.TypeI64, model.Null, false},
		{"negative i64 to u64", model.I64(-1), fastfield.TypeU64, model.Null, false},
		{"u64 to f64", model.U64(7), fastfield.TypeF64, model.F64(7), true},
		{"u64 to bool", model.U64(1), fastfield.TypeBool, model.Bool(true), true},
		{"str to i64", model.Str("1"), fastfield.TypeI64, model.Null, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := typedKey(tt.in, tt.typ)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
