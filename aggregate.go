package searchexec

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/internal/aggexec"
	"github.com/hupe1980/searchexec/internal/parallel"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/source"
)

// Plan validates c and builds its aggregation request.
func (e *Engine) Plan(ctx context.Context, c aggregate.Clause) (*aggregate.Plan, error) {
	p, err := aggregate.NewPlan(c, aggregate.Settings{
		MaxTermAggBuckets: e.opts.settings.MaxTermAggBuckets,
		AddDocCount:       e.opts.settings.AddDocCount,
		Codec:             e.opts.codec,
	})
	if err != nil {
		e.opts.logger.LogPlan(ctx, "", len(c.Aggregates), err)
		return nil, err
	}
	e.opts.logger.LogPlan(ctx, p.Shape.String(), len(c.Aggregates), nil)
	return p, nil
}

// Explain returns the JSON request of c with sorted keys.
func (e *Engine) Explain(ctx context.Context, c aggregate.Clause) ([]byte, error) {
	p, err := e.Plan(ctx, c)
	if err != nil {
		return nil, err
	}
	return p.Explain(e.opts.codec)
}

// Aggregate evaluates c over the visible matches of c.Query and returns
// its rows: exactly one when ungrouped, one per non-empty group otherwise.
func (e *Engine) Aggregate(ctx context.Context, c aggregate.Clause) ([]aggregate.Row, error) {
	start := time.Now()
	p, err := e.Plan(ctx, c)
	if err != nil {
		return nil, err
	}
	rows, err := e.aggregate(ctx, p)
	err = translateError(err)
	shape := p.Shape.String()
	e.opts.metricsCollector.RecordAggregate(shape, len(rows), time.Since(start), err)
	e.opts.logger.LogAggregate(ctx, shape, len(rows), err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) aggregate(ctx context.Context, p *aggregate.Plan) ([]aggregate.Row, error) {
	mvcc, err := aggregate.SolveMVCC(p.Clause.Aggregates)
	if err != nil {
		return nil, err
	}
	guard := resource.NewGuard(e.opts.controller, int64(e.opts.settings.MaxTermAggBuckets))
	defer guard.Release()
	aux := &source.AuxRequest{Aggregations: p.Aggregations, Guard: guard}
	if mvcc {
		aux.Oracle = e.opts.oracle
	}

	var res aggregate.Results
	if e.opts.workers == 1 {
		res, err = e.collect(ctx, p, aux, slices.Values(e.index.SegmentIDs()))
		if err != nil {
			return nil, err
		}
	} else {
		state := parallel.NewState(e.index.SegmentIDs())
		err := parallel.Run(ctx, e.opts.workers, func(ctx context.Context, _ int) error {
			var (
				local   aggregate.Results
				claimed int
			)
			for {
				seg, ok := state.Claim()
				if !ok {
					break
				}
				part, err := e.collect(ctx, p, aux, slices.Values([]model.SegmentID{seg}))
				if err != nil {
					return err
				}
				local = aggexec.Merge(local, part)
				claimed++
			}
			return state.AppendAggregation(local, claimed)
		})
		if err != nil {
			return nil, err
		}
		if res, err = state.WaitAggregation(ctx); err != nil {
			return nil, err
		}
	}

	aggexec.Finalize(p.Aggregations, res)
	return p.Flatten(res)
}

// collect runs the aggregation over segs as the auxiliary request of an
// empty Top-N query.
func (e *Engine) collect(ctx context.Context, p *aggregate.Plan, aux *source.AuxRequest, segs iter.Seq[model.SegmentID]) (aggregate.Results, error) {
	searcher, err := e.index.TopN(p.Clause.Query)
	if err != nil {
		return nil, err
	}
	results, err := searcher.SearchTopN(ctx, segs, source.TopNRequest{Aux: aux})
	if err != nil {
		return nil, err
	}
	res, ok := results.TakeAggregation()
	if !ok {
		return nil, model.Corruptf("searchexec.Aggregate", "aggregation requested but not returned")
	}
	return res, nil
}
