// Package aggexec is a reference aggregation engine: it evaluates an
// aggregate.Aggregations request over a stream of documents, merges partial
// results of several workers, and finalizes terms buckets.
package aggexec

import (
	"context"
	"fmt"
	"iter"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/visibility"
)

const (
	defaultBatchSize = 512
	// bucketOverhead approximates the memory of one bucket without its key.
	bucketOverhead = 96
)

// Doc is one aggregated document.
type Doc interface {
	query.Doc
	RowKey() model.RowKey
}

// Options configure Execute.
type Options struct {
	// Oracle drops invisible documents. Nil aggregates every document.
	Oracle visibility.Oracle
	// Guard accounts buckets and memory. Nil means unlimited.
	Guard *resource.Guard
	// BatchSize is the number of row keys per visibility check.
	BatchSize int
}

// Execute evaluates aggs over docs and returns partial results. Terms
// buckets are neither sorted nor truncated; call Finalize once all partial
// results are merged.
func Execute(ctx context.Context, aggs aggregate.Aggregations, docs iter.Seq[Doc], opts Options) (aggregate.Results, error) {
	if err := aggs.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	c := &collector{
		guard: opts.Guard,
		index: make(map[*aggregate.TermsResult]map[string]*aggregate.Bucket),
	}
	res := newResults(aggs)

	if opts.Oracle == nil {
		n := 0
		for doc := range docs {
			n++
			if n%opts.BatchSize == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if err := c.collect(aggs, res, doc); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	batch := make([]Doc, 0, opts.BatchSize)
	keys := make([]model.RowKey, opts.BatchSize)
	out := make([]model.RowKey, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, d := range batch {
			keys[i] = d.RowKey()
		}
		if err := opts.Oracle.Check(ctx, keys[:len(batch)], out[:len(batch)]); err != nil {
			return fmt.Errorf("visibility check: %w", err)
		}
		for i, d := range batch {
			if !out[i].Valid() {
				continue
			}
			if err := c.collect(aggs, res, d); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}
	for doc := range docs {
		batch = append(batch, doc)
		if len(batch) == opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return res, nil
}

// newResults allocates the empty result tree of aggs.
func newResults(aggs aggregate.Aggregations) aggregate.Results {
	if len(aggs) == 0 {
		return nil
	}
	res := make(aggregate.Results, len(aggs))
	for name, a := range aggs {
		switch {
		case a.Terms != nil:
			res[name] = &aggregate.Result{Terms: &aggregate.TermsResult{}}
		case a.Filter != nil:
			res[name] = &aggregate.Result{Filter: &aggregate.FilterResult{Sub: newResults(a.Aggs)}}
		default:
			kind, _ := a.Metric()
			res[name] = &aggregate.Result{Metric: aggregate.NewMetricResult(kind)}
		}
	}
	return res
}

type collector struct {
	guard *resource.Guard
	index map[*aggregate.TermsResult]map[string]*aggregate.Bucket
}

func (c *collector) collect(aggs aggregate.Aggregations, res aggregate.Results, doc query.Doc) error {
	for name, a := range aggs {
		r := res[name]
		switch {
		case a.Terms != nil:
			v := bucketKey(doc.Value(a.Terms.Field))
			if v.IsNull() {
				continue
			}
			b, err := c.bucket(r.Terms, v, a.Aggs)
			if err != nil {
				return err
			}
			b.DocCount++
			if err := c.collect(a.Aggs, b.Sub, doc); err != nil {
				return err
			}
		case a.Filter != nil:
			if !a.Filter.Matches(doc) {
				continue
			}
			r.Filter.DocCount++
			if err := c.collect(a.Aggs, r.Filter.Sub, doc); err != nil {
				return err
			}
		default:
			collectMetric(a, r.Metric, doc)
		}
	}
	return nil
}

func collectMetric(a *aggregate.Aggregation, m *aggregate.MetricResult, doc query.Doc) {
	kind, spec := a.Metric()
	v := doc.Value(spec.Field)
	if kind == aggregate.MetricValueCount {
		if !v.IsNull() || spec.Missing != nil {
			m.Count++
		}
		return
	}
	f, ok := v.Numeric()
	if !ok && spec.Missing != nil {
		f, ok = *spec.Missing, true
	}
	if ok {
		m.Add(f)
	}
}

func (c *collector) bucket(t *aggregate.TermsResult, key model.Value, sub aggregate.Aggregations) (*aggregate.Bucket, error) {
	idx := c.index[t]
	if idx == nil {
		idx = make(map[string]*aggregate.Bucket)
		c.index[t] = idx
	}
	k := key.Key()
	if b, ok := idx[k]; ok {
		return b, nil
	}
	if err := c.guard.AddBuckets(1); err != nil {
		return nil, err
	}
	if err := c.guard.AddMemory(int64(bucketOverhead + len(k))); err != nil {
		return nil, err
	}
	b := &aggregate.Bucket{Key: key, Sub: newResults(sub)}
	idx[k] = b
	t.Buckets = append(t.Buckets, b)
	return b, nil
}

// bucketKey widens integer keys to f64, the way terms keys are reported by
// the columnar engine.
func bucketKey(v model.Value) model.Value {
	switch v.Kind {
	case model.KindI64:
		return model.F64(float64(v.I64))
	case model.KindU64:
		return model.F64(float64(v.U64))
	}
	return v
}
