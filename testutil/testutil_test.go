package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/searchexec/memindex"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
)

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.Intn(1000)
	rng.Reset()
	b := rng.Intn(1000)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestZipf(t *testing.T) {
	rng := NewRNG(1)
	counts := make([]int, 5)
	for range 2000 {
		v := rng.Zipf(5, 1.5)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 5)
		counts[v]++
	}
	assert.Greater(t, counts[0], counts[4])
	assert.Equal(t, 0, rng.Zipf(1, 1.5))
}

func TestCorpus(t *testing.T) {
	rng := NewRNG(42)
	c := rng.Corpus(CorpusOptions{Segments: 3, DocsPerSegment: 50, Categories: 4, MissingRate: 0.2, DeadRate: 0.5})

	require.Len(t, c.Segments, 3)
	seen := map[model.RowKey]bool{}
	dead := 0
	for _, docs := range c.Segments {
		require.Len(t, docs, 50)
		for _, d := range docs {
			assert.False(t, seen[d.Key], "duplicate key %d", d.Key)
			seen[d.Key] = true
			if !c.Snapshot.Visible(d.Key).Valid() {
				dead++
			}
		}
	}
	assert.Greater(t, dead, 0)
	assert.Less(t, dead, 150)
	assert.Equal(t, uint64(dead), c.Snapshot.DeadTuples())

	idx, err := c.Build(memindex.Options{})
	require.NoError(t, err)
	assert.Equal(t, 150, idx.NumDocs())
}

func TestExactTopN(t *testing.T) {
	c := NewRNG(7).Corpus(CorpusOptions{Segments: 2, DocsPerSegment: 40, Categories: 3, MissingRate: 0.3, DeadRate: 0.25})
	desc := []model.OrderBy{{Field: "price", Direction: model.Desc}}

	keys := c.ExactTopN(query.MatchAll(), desc, 10)
	require.Len(t, keys, 10)

	prices := map[model.RowKey]model.Value{}
	for _, docs := range c.Segments {
		for _, d := range docs {
			prices[d.Key] = d.Fields["price"]
		}
	}
	for i, k := range keys {
		assert.True(t, c.Snapshot.Visible(k).Valid())
		if i > 0 {
			prev, cur := prices[keys[i-1]], prices[k]
			if !cur.IsNull() {
				require.False(t, prev.IsNull(), "null sorted before a value")
				assert.GreaterOrEqual(t, prev.F64, cur.F64)
			}
		}
	}

	all := c.ExactTopN(query.MatchAll(), desc, 1000)
	for _, k := range all[len(all)-3:] {
		assert.True(t, prices[k].IsNull(), "nulls sort last")
	}
	assert.Empty(t, c.ExactTopN(query.Term("category", "nope"), desc, 10))
}

func TestExactGroups(t *testing.T) {
	c := NewRNG(9).Corpus(CorpusOptions{Segments: 2, DocsPerSegment: 30, Categories: 3, DeadRate: 0.2})

	groups := c.ExactGroups(query.MatchAll())
	var total uint64
	for _, g := range groups {
		total += g.Count
		assert.Equal(t, g.Count, g.Priced)
	}
	assert.Equal(t, c.Snapshot.LiveTuples(), total)
}

func TestRecall(t *testing.T) {
	tests := []struct {
		name      string
		want, got []model.RowKey
		recall    float64
	}{
		{"both empty", nil, nil, 1},
		{"nothing expected", nil, []model.RowKey{1}, 0},
		{"perfect", []model.RowKey{1, 2, 3}, []model.RowKey{3, 2, 1}, 1},
		{"partial", []model.RowKey{1, 2, 3, 4}, []model.RowKey{1, 2, 9}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.recall, Recall(tt.want, tt.got), 1e-9)
		})
	}
}
