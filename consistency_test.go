package searchexec_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec"
	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/testutil"
)

func randomEngine(t *testing.T, c *testutil.Corpus, workers int) *searchexec.Engine {
	t.Helper()
	idx, err := c.Build(memindex.Options{BlockSize: 4})
	require.NoError(t, err)
	eng, err := searchexec.New(idx, searchexec.WithOracle(c.Snapshot), searchexec.WithWorkers(workers))
	require.NoError(t, err)
	return eng
}

func TestEngine_TopN_MatchesExact(t *testing.T) {
	queries := []struct {
		name    string
		q       query.Query
		orderBy []model.OrderBy
		fields  []fastfield.WhichFastField
	}{
		{
			name:    "PriceDesc",
			q:       query.MatchAll(),
			orderBy: []model.OrderBy{{Field: "price", Direction: model.Desc}},
			fields:  []fastfield.WhichFastField{ctid, price},
		},
		{
			name:    "RatingAscPriceDesc",
			q:       query.Exists("price"),
			orderBy: []model.OrderBy{{Field: "rating", Direction: model.Asc}, {Field: "price", Direction: model.Desc}},
			fields:  []fastfield.WhichFastField{ctid, fastfield.Named("rating", fastfield.TypeI64), price},
		},
		{
			name:    "ScoreDesc",
			q:       query.Term("category", "c00"),
			orderBy: []model.OrderBy{{Direction: model.Desc}},
			fields:  []fastfield.WhichFastField{ctid, fastfield.Score()},
		},
	}

	for _, seed := range []int64{1, 2, 3} {
		c := testutil.NewRNG(seed).Corpus(testutil.CorpusOptions{
			Segments:       4,
			DocsPerSegment: 60,
			Categories:     5,
			MissingRate:    0.15,
			DeadRate:       0.6,
		})
		for _, workers := range []int{1, 3} {
			eng := randomEngine(t, c, workers)
			for _, tt := range queries {
				for _, limit := range []int{1, 7, 40} {
					t.Run(fmt.Sprintf("seed=%d/workers=%d/%s/limit=%d", seed, workers, tt.name, limit), func(t *testing.T) {
						res, err := eng.TopN(context.Background(), searchexec.TopNQuery{
							Query:   tt.q,
							OrderBy: tt.orderBy,
							Limit:   limit,
							Fields:  tt.fields,
						})
						require.NoError(t, err)

						want := c.ExactTopN(tt.q, tt.orderBy, limit)
						assert.Equal(t, want, rowKeys(res.Rows))
						assert.InDelta(t, 1.0, testutil.Recall(want, rowKeys(res.Rows)), 1e-9)
					})
				}
			}
		}
	}
}

func TestEngine_TopN_UnorderedReturnsVisibleMatches(t *testing.T) {
	c := testutil.NewRNG(11).Corpus(testutil.CorpusOptions{Segments: 3, DocsPerSegment: 50, Categories: 3, DeadRate: 0.7})
	q := query.Term("category", "c01")
	all := c.ExactTopN(q, nil, 1000)
	require.NotEmpty(t, all)

	for _, workers := range []int{1, 2} {
		eng := randomEngine(t, c, workers)
		limit := min(5, len(all))
		res, err := eng.TopN(context.Background(), searchexec.TopNQuery{Query: q, Limit: limit, Fields: []fastfield.WhichFastField{ctid}})
		require.NoError(t, err)

		got := rowKeys(res.Rows)
		assert.Len(t, got, limit, "workers=%d", workers)
		assert.Subset(t, all, got, "workers=%d", workers)
		if workers == 1 {
			assert.Equal(t, all[:limit], got)
		}
	}
}

func TestEngine_Aggregate_MatchesExact(t *testing.T) {
	for _, seed := range []int64{5, 6} {
		c := testutil.NewRNG(seed).Corpus(testutil.CorpusOptions{
			Segments:       3,
			DocsPerSegment: 80,
			Categories:     6,
			MissingRate:    0.3,
			DeadRate:       0.4,
		})
		want := c.ExactGroups(query.MatchAll())

		for _, workers := range []int{1, 4} {
			t.Run(fmt.Sprintf("seed=%d/workers=%d", seed, workers), func(t *testing.T) {
				eng := randomEngine(t, c, workers)
				rows, err := eng.Aggregate(context.Background(), aggregate.Clause{
					Query:      query.MatchAll(),
					GroupBy:    []aggregate.GroupingColumn{{Field: "category", Type: fastfield.TypeStr}},
					Aggregates: []aggregate.AggregateType{aggregate.CountAny(), aggregate.Sum("price")},
				})
				require.NoError(t, err)
				require.Len(t, rows, len(want))

				for _, r := range rows {
					g, ok := want[r.GroupKeys[0].Str]
					require.True(t, ok, "unexpected group %v", r.GroupKeys[0])
					assert.Equal(t, aggregate.Scalar(float64(g.Count)), r.Aggregates[0])
					if g.Priced == 0 {
						assert.True(t, r.Aggregates[1].IsNull())
						continue
					}
					assert.InDelta(t, g.Sum, r.Aggregates[1].Scalar, 1e-6)
				}
			})
		}
	}
}
