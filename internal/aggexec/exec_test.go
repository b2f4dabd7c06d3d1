package aggexec

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/visibility"
)

type testDoc struct {
	key    model.RowKey
	fields map[string]model.Value
}

func (d testDoc) Value(field string) model.Value {
	if field == aggregate.CtidField {
		return model.U64(uint64(d.key))
	}
	return d.fields[field]
}

func (d testDoc) RowKey() model.RowKey { return d.key }

func product(key model.RowKey, category, brand string, price float64, inStock bool, year int64) testDoc {
	return testDoc{key: key, fields: map[string]model.Value{
		"category": model.Str(category),
		"brand":    model.Str(brand),
		"price":    model.F64(price),
		"in_stock": model.Bool(inStock),
		"year":     model.I64(year),
	}}
}

func products() []Doc {
	return []Doc{
		product(1, "books", "x", 10, true, 2020),
		product(2, "books", "x", 20, false, 2021),
		product(3, "books", "y", 5, true, 2020),
		product(4, "games", "x", 7, false, 2021),
	}
}

func run(t *testing.T, p *aggregate.Plan, docs []Doc, opts Options) []aggregate.Row {
	t.Helper()
	res, err := Execute(context.Background(), p.Aggregations, slices.Values(docs), opts)
	require.NoError(t, err)
	Finalize(p.Aggregations, res)
	rows, err := p.Flatten(res)
	require.NoError(t, err)
	return rows
}

func values(row aggregate.Row) []any {
	out := make([]any, len(row.Aggregates))
	for i, v := range row.Aggregates {
		out[i] = v.Any()
	}
	return out
}

func strCols(fields ...string) []aggregate.GroupingColumn {
	cols := make([]aggregate.GroupingColumn, len(fields))
	for i, f := range fields {
		cols[i] = aggregate.GroupingColumn{Field: f, Type: fastfield.TypeStr}
	}
	return cols
}

func TestExecute_Ungrouped(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{Aggregates: []aggregate.AggregateType{
		aggregate.CountAny(),
		aggregate.Sum("price"),
		aggregate.Avg("price"),
		aggregate.Min("price"),
		aggregate.Max("price"),
		aggregate.Count("missing_field"),
	}}, aggregate.Settings{AddDocCount: true})
	require.NoError(t, err)

	rows := run(t, p, products(), Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, []any{4.0, 42.0, 10.5, 5.0, 20.0, 0.0}, values(rows[0]))
	assert.Equal(t, uint64(4), *rows[0].DocCount)

	rows = run(t, p, nil, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, []any{0.0, nil, nil, nil, nil, 0.0}, values(rows[0]))
}

func TestExecute_Missing(t *testing.T) {
	docs := append(products(), testDoc{key: 5, fields: map[string]model.Value{}})
	p, err := aggregate.NewPlan(aggregate.Clause{Aggregates: []aggregate.AggregateType{
		aggregate.Avg("price").WithMissing(0),
		aggregate.Count("price").WithMissing(0),
	}}, aggregate.Settings{})
	require.NoError(t, err)

	rows := run(t, p, docs, Options{})
	assert.Equal(t, []any{42.0 / 5, 5.0}, values(rows[0]))
}

func TestExecute_Visibility(t *testing.T) {
	hidden := visibility.OracleFunc(func(_ context.Context, keys, out []model.RowKey) error {
		for i, k := range keys {
			out[i] = k
			if k == 2 {
				out[i] = model.NoRowKey
			}
		}
		return nil
	})
	p, err := aggregate.NewPlan(aggregate.Clause{Aggregates: []aggregate.AggregateType{
		aggregate.CountAny(), aggregate.Sum("price"),
	}}, aggregate.Settings{})
	require.NoError(t, err)

	// A batch size of 3 exercises both a full and a partial batch.
	rows := run(t, p, products(), Options{Oracle: hidden, BatchSize: 3})
	assert.Equal(t, []any{3.0, 22.0}, values(rows[0]))

	failing := visibility.OracleFunc(func(context.Context, []model.RowKey, []model.RowKey) error {
		return errors.New("boom")
	})
	_, err = Execute(context.Background(), p.Aggregations, slices.Values(products()), Options{Oracle: failing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visibility check")
}

func TestExecute_GroupedFilteredScenario(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{
		GroupBy: strCols("category", "brand"),
		Aggregates: []aggregate.AggregateType{
			aggregate.CountAny(),
			aggregate.Sum("price").WithFilter(query.Term("in_stock", true)),
		},
	}, aggregate.Settings{})
	require.NoError(t, err)
	require.Equal(t, aggregate.ShapeGroupedFiltered, p.Shape)

	rows := run(t, p, products(), Options{})
	require.Len(t, rows, 3)

	assert.Equal(t, []model.Value{model.Str("books"), model.Str("x")}, rows[0].GroupKeys)
	assert.Equal(t, []any{2.0, 10.0}, values(rows[0]))
	assert.Equal(t, []model.Value{model.Str("books"), model.Str("y")}, rows[1].GroupKeys)
	assert.Equal(t, []any{1.0, 5.0}, values(rows[1]))
	assert.Equal(t, []model.Value{model.Str("games"), model.Str("x")}, rows[2].GroupKeys)
	assert.Equal(t, []any{1.0, nil}, values(rows[2]))
}

func TestExecute_ShapesRoundTrip(t *testing.T) {
	inStock := query.Term("in_stock", true)
	tests := []struct {
		name    string
		clause  aggregate.Clause
		groups  int
		shape   aggregate.Shape
		wantRow []any
	}{
		{
			name:    "ungrouped",
			clause:  aggregate.Clause{Aggregates: []aggregate.AggregateType{aggregate.Max("price")}},
			groups:  1,
			shape:   aggregate.ShapeUngrouped,
			wantRow: []any{20.0},
		},
		{
			name:    "ungrouped filtered",
			clause:  aggregate.Clause{Aggregates: []aggregate.AggregateType{aggregate.Max("price").WithFilter(inStock)}},
			groups:  1,
			shape:   aggregate.ShapeUngroupedFiltered,
			wantRow: []any{10.0},
		},
		{
			name: "grouped",
			clause: aggregate.Clause{
				GroupBy:    strCols("category"),
				Aggregates: []aggregate.AggregateType{aggregate.CountAny(), aggregate.Max("price")},
			},
			groups:  2,
			shape:   aggregate.ShapeGrouped,
			wantRow: []any{3.0, 20.0},
		},
		{
			name: "grouped filtered",
			clause: aggregate.Clause{
				GroupBy:    strCols("category"),
				Aggregates: []aggregate.AggregateType{aggregate.CountAny().WithFilter(inStock), aggregate.Max("price")},
			},
			groups:  2,
			shape:   aggregate.ShapeGroupedFiltered,
			wantRow: []any{2.0, 20.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := aggregate.NewPlan(tt.clause, aggregate.Settings{})
			require.NoError(t, err)
			assert.Equal(t, tt.shape, p.Shape)

			rows := run(t, p, products(), Options{})
			require.Len(t, rows, tt.groups)
			assert.Equal(t, tt.wantRow, values(rows[0]))
		})
	}
}

func TestExecute_TypedGroupKeys(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{
		GroupBy:    []aggregate.GroupingColumn{{Field: "year", Type: fastfield.TypeI64}},
		Aggregates: []aggregate.AggregateType{aggregate.Sum("price")},
		OrderBy:    []model.OrderBy{{Field: "year", Direction: model.Desc}},
	}, aggregate.Settings{})
	require.NoError(t, err)

	rows := run(t, p, products(), Options{})
	require.Len(t, rows, 2)
	assert.Equal(t, []model.Value{model.I64(2021)}, rows[0].GroupKeys)
	assert.Equal(t, []any{27.0}, values(rows[0]))
	assert.Equal(t, []model.Value{model.I64(2020)}, rows[1].GroupKeys)
	assert.Equal(t, []any{15.0}, values(rows[1]))
}

func TestExecute_Guard(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{GroupBy: strCols("category", "brand")}, aggregate.Settings{})
	require.NoError(t, err)

	_, err = Execute(context.Background(), p.Aggregations, slices.Values(products()), Options{Guard: resource.NewGuard(nil, 2)})
	require.ErrorIs(t, err, resource.ErrBucketLimitExceeded)

	ctrl := resource.NewController(resource.Config{WorkMemBytes: 1 << 20})
	g := resource.NewGuard(ctrl, 0)
	_, err = Execute(context.Background(), p.Aggregations, slices.Values(products()), Options{Guard: g})
	require.NoError(t, err)
	assert.Equal(t, int64(5), g.Buckets())
	assert.Positive(t, ctrl.InUse())
	g.Release()
	assert.Zero(t, ctrl.InUse())

	tiny := resource.NewGuard(resource.NewController(resource.Config{WorkMemBytes: 10}), 0)
	_, err = Execute(context.Background(), p.Aggregations, slices.Values(products()), Options{Guard: tiny})
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
}

func TestExecute_Canceled(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{Aggregates: []aggregate.AggregateType{aggregate.CountAny()}}, aggregate.Settings{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Execute(ctx, p.Aggregations, slices.Values(products()), Options{BatchSize: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecute_InvalidRequest(t *testing.T) {
	_, err := Execute(context.Background(), aggregate.Aggregations{"0": {}}, slices.Values(products()), Options{})
	require.ErrorIs(t, err, model.ErrUsage)
}

func TestMerge_MatchesSinglePass(t *testing.T) {
	p, err := aggregate.NewPlan(aggregate.Clause{
		GroupBy: strCols("category", "brand"),
		Aggregates: []aggregate.AggregateType{
			aggregate.CountAny(),
			aggregate.Avg("price").WithFilter(query.Term("in_stock", true)),
		},
	}, aggregate.Settings{})
	require.NoError(t, err)

	docs := products()
	want := run(t, p, docs, Options{})

	var merged aggregate.Results
	for _, part := range [][]Doc{docs[:1], docs[1:3], docs[3:]} {
		res, err := Execute(context.Background(), p.Aggregations, iter.Seq[Doc](slices.Values(part)), Options{})
		require.NoError(t, err)
		merged = Merge(merged, res)
	}
	Finalize(p.Aggregations, merged)
	got, err := p.Flatten(merged)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFinalize_Truncates(t *testing.T) {
	limit := uint32(1)
	p, err := aggregate.NewPlan(aggregate.Clause{
		GroupBy: strCols("brand"),
		Limit:   &limit,
	}, aggregate.Settings{})
	require.NoError(t, err)

	res, err := Execute(context.Background(), p.Aggregations, slices.Values(products()), Options{})
	require.NoError(t, err)
	Finalize(p.Aggregations, res)

	terms := res[aggregate.GroupedKey].Terms
	require.Len(t, terms.Buckets, 1)
	assert.Equal(t, model.Str("x"), terms.Buckets[0].Key)
	assert.Equal(t, uint64(3), terms.Buckets[0].DocCount)
	assert.Equal(t, uint64(1), terms.SumOtherDocCount)
}

func TestBucketOrder(t *testing.T) {
	a := &aggregate.Bucket{Key: model.Str("a"), DocCount: 1}
	b := &aggregate.Bucket{Key: model.Str("b"), DocCount: 2}
	c := &aggregate.Bucket{Key: model.Str("c"), DocCount: 2}

	tests := []struct {
		name  string
		order map[string]string
		want  []*aggregate.Bucket
	}{
		{"default", nil, []*aggregate.Bucket{b, c, a}},
		{"key desc", map[string]string{aggregate.OrderByKey: "desc"}, []*aggregate.Bucket{c, b, a}},
		{"count asc", map[string]string{aggregate.OrderByCount: "asc"}, []*aggregate.Bucket{a, b, c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []*aggregate.Bucket{a, b, c}
			slices.SortStableFunc(got, bucketOrder(tt.order))
			assert.Equal(t, tt.want, got)
		})
	}
}
