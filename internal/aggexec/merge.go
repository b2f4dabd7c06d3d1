package aggexec

import (
	"cmp"
	"slices"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/model"
)

// Merge folds src into dst and returns dst. A nil dst takes src as is.
func Merge(dst, src aggregate.Results) aggregate.Results {
	if dst == nil {
		return src
	}
	for name, s := range src {
		d, ok := dst[name]
		if !ok || d == nil {
			dst[name] = s
			continue
		}
		mergeResult(d, s)
	}
	return dst
}

func mergeResult(d, s *aggregate.Result) {
	if s == nil {
		return
	}
	switch {
	case d.Metric != nil:
		d.Metric.Merge(s.Metric)
	case d.Filter != nil:
		if s.Filter == nil {
			return
		}
		d.Filter.DocCount += s.Filter.DocCount
		d.Filter.Sub = Merge(d.Filter.Sub, s.Filter.Sub)
	case d.Terms != nil:
		if s.Terms == nil {
			return
		}
		mergeTerms(d.Terms, s.Terms)
	}
}

func mergeTerms(d, s *aggregate.TermsResult) {
	idx := make(map[string]*aggregate.Bucket, len(d.Buckets))
	for _, b := range d.Buckets {
		idx[b.Key.Key()] = b
	}
	for _, b := range s.Buckets {
		if db, ok := idx[b.Key.Key()]; ok {
			db.DocCount += b.DocCount
			db.Sub = Merge(db.Sub, b.Sub)
			continue
		}
		d.Buckets = append(d.Buckets, b)
		idx[b.Key.Key()] = b
	}
	d.SumOtherDocCount += s.SumOtherDocCount
}

// Finalize sorts every terms level of res by its requested order and
// truncates it to its size. Buckets cut by the size limit are counted in
// SumOtherDocCount.
func Finalize(aggs aggregate.Aggregations, res aggregate.Results) {
	for name, a := range aggs {
		r := res[name]
		if r == nil {
			continue
		}
		switch {
		case a.Terms != nil && r.Terms != nil:
			finalizeTerms(a, r.Terms)
		case a.Filter != nil && r.Filter != nil:
			Finalize(a.Aggs, r.Filter.Sub)
		}
	}
}

func finalizeTerms(a *aggregate.Aggregation, t *aggregate.TermsResult) {
	slices.SortStableFunc(t.Buckets, bucketOrder(a.Terms.Order))
	if size := int(a.Terms.Size); size > 0 && len(t.Buckets) > size {
		for _, b := range t.Buckets[size:] {
			t.SumOtherDocCount += b.DocCount
		}
		t.Buckets = t.Buckets[:size]
	}
	for _, b := range t.Buckets {
		Finalize(a.Aggs, b.Sub)
	}
}

// bucketOrder returns the comparison for an order directive. The default is
// document count descending, then key ascending.
func bucketOrder(order map[string]string) func(a, b *aggregate.Bucket) int {
	byKey := func(a, b *aggregate.Bucket) int { return model.Compare(a.Key, b.Key) }
	byCount := func(a, b *aggregate.Bucket) int { return cmp.Compare(a.DocCount, b.DocCount) }

	if dir, ok := order[aggregate.OrderByKey]; ok {
		return func(a, b *aggregate.Bucket) int {
			c := byKey(a, b)
			if dir == "desc" {
				return -c
			}
			return c
		}
	}
	desc := true
	if dir, ok := order[aggregate.OrderByCount]; ok {
		desc = dir == "desc"
	}
	return func(a, b *aggregate.Bucket) int {
		c := byCount(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return byKey(a, b)
	}
}
