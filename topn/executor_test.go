package topn_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/parallel"
	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/topn"
	"github.com/hupe1980/searchexec/visibility"
)

var byScore = []model.OrderBy{{Direction: model.Desc}}

// docs returns keys from..to with descending scores and price = key, so
// that ordering by score returns them by ascending key.
func docs(from, to int) []memindex.Doc {
	var out []memindex.Doc
	for k := from; k <= to; k++ {
		out = append(out, memindex.Doc{
			Key:    model.RowKey(k),
			Score:  float32(1000 - k),
			Fields: map[string]model.Value{"price": model.F64(float64(k))},
		})
	}
	return out
}

func newSearcher(t *testing.T, segments ...[]memindex.Doc) *memindex.Searcher {
	t.Helper()
	idx, err := memindex.New([]memindex.Field{{Name: "price", Type: fastfield.TypeF64}}, memindex.Options{}, segments...)
	require.NoError(t, err)
	s, err := idx.Searcher(query.MatchAll())
	require.NoError(t, err)
	return s
}

// snapshot makes keys 1..n visible except the given ones.
func snapshot(n int, invisible ...int) *visibility.Snapshot {
	v := visibility.NewVersions(n + 1)
	for k := 1; k <= n; k++ {
		v.Insert(model.RowKey(k), 1)
	}
	for _, k := range invisible {
		v.Delete(model.RowKey(k), 2)
	}
	return v.Snapshot(2)
}

// drain pulls every candidate, confirming the visible ones.
func drain(t *testing.T, e *topn.Executor, snap *visibility.Snapshot) []model.RowKey {
	t.Helper()
	var got []model.RowKey
	for {
		d, ok, err := e.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return got
		}
		if snap.Visible(d.Score.Key).Valid() {
			e.IncrementVisible()
			got = append(got, d.Score.Key)
		}
	}
}

func keys(ks ...int) []model.RowKey {
	out := make([]model.RowKey, len(ks))
	for i, k := range ks {
		out[i] = model.RowKey(k)
	}
	return out
}

func TestScaleFactor(t *testing.T) {
	tests := []struct {
		name       string
		stats      visibility.HeapStats
		multiplier float64
		want       float64
	}{
		{"no stats", nil, 1, 2},
		{"empty heap", visibility.Stats{}, 1, 2},
		{"few dead", visibility.Stats{Live: 4, Dead: 2}, 1, 1.6},
		{"multiplier", visibility.Stats{Live: 3, Dead: 1}, 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, topn.ScaleFactor(tt.stats, tt.multiplier), 1e-9)
		})
	}
}

func TestExecutor_OneRoundSuffices(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12, 2, 5, 9)

	e, err := topn.New(s, 5, byScore, visibility.Stats{Live: 4, Dead: 2}, topn.DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, keys(1, 3, 4, 6, 7), drain(t, e, snap))
	assert.Equal(t, 1, e.Queries())
	assert.Equal(t, 1, s.Calls)
	assert.Equal(t, 8, s.Requests[0].Limit)
	assert.Equal(t, 0, s.Requests[0].Offset)
	assert.Equal(t, 5, e.Found())
	assert.Equal(t, 8, e.Offset())
	assert.False(t, e.Exhausted())
}

func TestExecutor_RetriesWithLargerChunks(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12, 1, 2, 3, 4, 5, 6, 7, 8)

	var events []topn.QueryEvent
	e, err := topn.New(s, 5, byScore, visibility.Stats{Live: 4, Dead: 2}, topn.DefaultSettings(),
		topn.WithObserver(func(ev topn.QueryEvent) { events = append(events, ev) }))
	require.NoError(t, err)

	// Fewer than limit rows only because the matches ran out.
	assert.Equal(t, keys(9, 10, 11, 12), drain(t, e, snap))
	require.Len(t, s.Requests, 2)
	assert.Equal(t, [2]int{0, 8}, [2]int{s.Requests[0].Offset, s.Requests[0].Limit})
	assert.Equal(t, [2]int{8, 16}, [2]int{s.Requests[1].Offset, s.Requests[1].Limit})
	assert.True(t, e.Exhausted())
	assert.Equal(t, 2, e.Queries())
	assert.Equal(t, 32, e.ChunkSize())

	require.Len(t, events, 2)
	assert.False(t, events[0].Retry)
	assert.True(t, events[1].Retry)
	assert.Equal(t, 4, events[1].Returned)
	assert.True(t, events[1].Exhausted)
}

func TestExecutor_TinyMultiplierStillFetches(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12)

	// limit*scale rounds down to zero rows.
	e, err := topn.New(s, 5, byScore, snap, topn.Settings{LimitFetchMultiplier: 0.01})
	require.NoError(t, err)

	assert.Equal(t, keys(1, 2, 3, 4, 5), drain(t, e, snap))
	assert.False(t, e.Exhausted())

	var got [][2]int
	for _, r := range s.Requests {
		got = append(got, [2]int{r.Offset, r.Limit})
	}
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}, {3, 4}}, got)
}

func TestExecutor_OffsetsStrictlyIncrease(t *testing.T) {
	s := newSearcher(t, docs(1, 100))
	snap := snapshot(100, func() []int {
		var all []int
		for k := 1; k <= 100; k++ {
			all = append(all, k)
		}
		return all
	}()...)

	settings := topn.DefaultSettings()
	settings.MaxChunkSize = 50
	e, err := topn.New(s, 5, byScore, nil, settings)
	require.NoError(t, err)

	assert.Empty(t, drain(t, e, snap))

	var got [][2]int
	for _, r := range s.Requests {
		got = append(got, [2]int{r.Offset, r.Limit})
	}
	assert.Equal(t, [][2]int{{0, 10}, {10, 20}, {30, 40}, {70, 50}}, got)
	for i := 1; i < len(s.Requests); i++ {
		prev := s.Requests[i-1]
		assert.Equal(t, prev.Offset+prev.Limit, s.Requests[i].Offset)
	}
}

func TestExecutor_ResetIsIdempotent(t *testing.T) {
	s := newSearcher(t, docs(1, 6), docs(7, 12))
	snap := snapshot(12, 1, 2, 3, 4, 5, 6, 7, 8)

	e, err := topn.New(s, 3, byScore, visibility.Stats{Live: 4, Dead: 2}, topn.DefaultSettings())
	require.NoError(t, err)

	first := drain(t, e, snap)
	firstRequests := len(s.Requests)
	e.Reset()
	assert.Equal(t, 0, e.Found())
	assert.Equal(t, 0, e.Offset())
	assert.Equal(t, 0, e.ChunkSize())

	second := drain(t, e, snap)
	assert.Equal(t, first, second)
	assert.Equal(t, keys(9, 10, 11), second)
	assert.Equal(t, s.Requests[:firstRequests], s.Requests[firstRequests:])
}

func TestExecutor_Unordered(t *testing.T) {
	s := newSearcher(t, docs(1, 4))
	e, err := topn.New(s, 2, nil, nil, topn.DefaultSettings())
	require.NoError(t, err)

	got := drain(t, e, snapshot(4))
	assert.Len(t, got, 2)
	assert.Nil(t, s.Requests[0].OrderBy)
}

func TestExecutor_LimitZero(t *testing.T) {
	s := newSearcher(t, docs(1, 4))
	e, err := topn.New(s, 0, byScore, nil, topn.DefaultSettings())
	require.NoError(t, err)

	_, ok, err := e.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Calls)
	assert.Equal(t, 0, e.Queries())
}

func TestExecutor_Canceled(t *testing.T) {
	s := newSearcher(t, docs(1, 4))
	e, err := topn.New(s, 2, byScore, nil, topn.DefaultSettings())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = e.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Errors(t *testing.T) {
	s := newSearcher(t, docs(1, 4))
	four := []model.OrderBy{{}, {Field: "a"}, {Field: "b"}, {Field: "c"}}
	custom := func(m aggregate.MVCC) aggregate.AggregateType {
		return aggregate.Custom([]byte(`{"value_count":{"field":"ctid"}}`)).WithMVCC(m)
	}

	tests := []struct {
		name     string
		limit    int
		orderBy  []model.OrderBy
		settings topn.Settings
		opts     []topn.Option
	}{
		{"negative limit", -1, byScore, topn.DefaultSettings(), nil},
		{"too many features", 5, four, topn.DefaultSettings(), nil},
		{"bad multiplier", 5, byScore, topn.Settings{LimitFetchMultiplier: -1}, nil},
		{"contradicting mvcc", 5, byScore, topn.DefaultSettings(), []topn.Option{
			topn.WithWindowAggregates(
				topn.WindowAggregate{TargetIndex: 0, Aggregates: []aggregate.AggregateType{custom(aggregate.MVCCEnabled)}},
				topn.WindowAggregate{TargetIndex: 1, Aggregates: []aggregate.AggregateType{custom(aggregate.MVCCDisabled)}},
			),
		}},
		{"window without order", 5, nil, topn.DefaultSettings(), []topn.Option{
			topn.WithWindowAggregates(topn.WindowAggregate{Aggregates: []aggregate.AggregateType{aggregate.CountAny()}}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := topn.New(s, tt.limit, tt.orderBy, nil, tt.settings, tt.opts...)
			assert.ErrorIs(t, err, model.ErrUsage)
		})
	}

	_, err := topn.New(nil, 1, nil, nil, topn.DefaultSettings())
	assert.ErrorIs(t, err, model.ErrUsage)
}

func TestExecutor_WindowAggregates(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12, 2, 5, 9)

	e, err := topn.New(s, 5, byScore, snap, topn.DefaultSettings(),
		topn.WithOracle(snap),
		topn.WithWindowAggregates(
			topn.WindowAggregate{TargetIndex: 2, Aggregates: []aggregate.AggregateType{aggregate.CountAny()}},
			topn.WindowAggregate{TargetIndex: 4, Aggregates: []aggregate.AggregateType{aggregate.Sum("price")}},
		))
	require.NoError(t, err)

	_, ok := e.WindowValues()
	assert.False(t, ok)

	drain(t, e, snap)
	values, ok := e.WindowValues()
	require.True(t, ok)
	// Aggregates cover every visible match, not just the window.
	assert.Equal(t, map[int]aggregate.Value{
		2: aggregate.Scalar(9),
		4: aggregate.Scalar(78 - 2 - 5 - 9),
	}, values)
	require.NotNil(t, s.Requests[0].Aux)
	assert.Same(t, snap, s.Requests[0].Aux.Oracle)
}

func TestExecutor_WindowAggregatesOnlyOnFirstQuery(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12, 1, 2, 3, 4, 5, 6, 7, 8)

	e, err := topn.New(s, 5, byScore, visibility.Stats{Live: 4, Dead: 2}, topn.DefaultSettings(),
		topn.WithWindowAggregates(topn.WindowAggregate{Aggregates: []aggregate.AggregateType{aggregate.CountAny()}}))
	require.NoError(t, err)

	drain(t, e, snap)
	require.Len(t, s.Requests, 2)
	assert.NotNil(t, s.Requests[0].Aux)
	assert.Nil(t, s.Requests[1].Aux)
}

func TestExecutor_WindowAggregatesWithoutMVCC(t *testing.T) {
	s := newSearcher(t, docs(1, 12))
	snap := snapshot(12, 2, 5, 9)

	e, err := topn.New(s, 5, byScore, snap, topn.DefaultSettings(),
		topn.WithOracle(snap),
		topn.WithWindowAggregates(topn.WindowAggregate{Aggregates: []aggregate.AggregateType{
			aggregate.Custom([]byte(`{"value_count":{"field":"ctid"}}`)).WithMVCC(aggregate.MVCCDisabled),
		}}))
	require.NoError(t, err)

	drain(t, e, snap)
	values, ok := e.WindowValues()
	require.True(t, ok)
	assert.Equal(t, aggregate.Structured(map[string]any{"value": float64(12)}), values[0])
	assert.Nil(t, s.Requests[0].Aux.Oracle)
}

func TestExecutor_ParallelReplaysClaimedSegments(t *testing.T) {
	s := newSearcher(t, docs(1, 4), docs(5, 8), docs(9, 12))
	state := parallel.NewState(s.SegmentIDs())
	snap := snapshot(12, 1, 2, 3, 4, 5, 6, 7, 8)

	e, err := topn.New(s, 5, byScore, visibility.Stats{Live: 4, Dead: 2}, topn.DefaultSettings(),
		topn.WithParallel(state))
	require.NoError(t, err)

	// The re-query finds rows only because the claimed segments are replayed.
	assert.Equal(t, keys(9, 10, 11, 12), drain(t, e, snap))
	assert.Equal(t, 2, e.Queries())
	assert.Equal(t, 3, state.Claimed())

	other, err := topn.New(newSearcher(t, docs(1, 4), docs(5, 8), docs(9, 12)), 5, byScore, nil, topn.DefaultSettings(), topn.WithParallel(state))
	require.NoError(t, err)
	assert.Empty(t, drain(t, other, snap))
}

func TestExecutor_ParallelWindowAggregates(t *testing.T) {
	segments := [][]memindex.Doc{docs(1, 4), docs(5, 8), docs(9, 12)}
	snap := snapshot(12, 2, 5, 9)
	state := parallel.NewState([]model.SegmentID{0, 1, 2})

	const workers = 3
	var (
		mu      sync.Mutex
		values  []map[int]aggregate.Value
		visible []model.RowKey
	)
	searchers := make([]*memindex.Searcher, workers)
	for w := range searchers {
		searchers[w] = newSearcher(t, segments...)
	}

	err := parallel.Run(context.Background(), workers, func(ctx context.Context, w int) error {
		// The limit exceeds every worker's share.
		e, err := topn.New(searchers[w], 20, byScore, snap, topn.DefaultSettings(),
			topn.WithParallel(state),
			topn.WithOracle(snap),
			topn.WithWindowAggregates(topn.WindowAggregate{TargetIndex: 1, Aggregates: []aggregate.AggregateType{aggregate.CountAny()}}))
		if err != nil {
			return err
		}
		for {
			d, ok, err := e.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if snap.Visible(d.Score.Key).Valid() {
				e.IncrementVisible()
				mu.Lock()
				visible = append(visible, d.Score.Key)
				mu.Unlock()
			}
		}
		v, _ := e.WindowValues()
		mu.Lock()
		values = append(values, v)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, values, workers)
	for _, v := range values {
		assert.Equal(t, map[int]aggregate.Value{1: aggregate.Scalar(9)}, v)
	}
	// Every worker sees only its own segments, so together they return
	// each visible row at most once.
	assert.Len(t, visible, 9)
	assert.ElementsMatch(t, keys(1, 3, 4, 6, 7, 8, 10, 11, 12), visible)
}
