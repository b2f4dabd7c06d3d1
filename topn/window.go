package topn

import (
	"context"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/internal/aggexec"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/source"
)

// WindowAggregate is an aggregate computed over every match of the query
// and projected into one output column.
type WindowAggregate struct {
	// TargetIndex is the output column receiving the value.
	TargetIndex int
	Aggregates  []aggregate.AggregateType
}

// window is the single request combining every window aggregate, keyed "0"
// to "n" in declaration order.
type window struct {
	plan    *aggregate.Plan
	targets []int
	mvcc    bool
}

func prepareWindow(ws []WindowAggregate, s Settings) (*window, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	var (
		combined []aggregate.AggregateType
		targets  []int
	)
	for _, w := range ws {
		for _, a := range w.Aggregates {
			combined = append(combined, a)
			targets = append(targets, w.TargetIndex)
		}
	}
	mvcc, err := aggregate.SolveMVCC(combined)
	if err != nil {
		return nil, err
	}

	plan, err := aggregate.NewPlan(aggregate.Clause{
		Query:      query.MatchAll(),
		Aggregates: combined,
	}, aggregate.Settings{
		MaxTermAggBuckets: s.MaxTermAggBuckets,
		AddDocCount:       s.AddDocCount,
		Codec:             s.Codec,
	})
	if err != nil {
		return nil, err
	}
	return &window{plan: plan, targets: targets, mvcc: mvcc}, nil
}

// publish finalizes a merged result and maps each aggregate to its target.
// When several aggregates share a target the last one wins.
func (w *window) publish(res aggregate.Results) (map[int]aggregate.Value, error) {
	aggexec.Finalize(w.plan.Aggregations, res)
	rows, err := w.plan.Flatten(res)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, model.Corruptf("topn.window", "ungrouped window aggregation produced %d rows", len(rows))
	}
	out := make(map[int]aggregate.Value, len(w.targets))
	for i, t := range w.targets {
		out[t] = rows[0].Aggregates[i]
	}
	return out, nil
}

// collect takes the partial aggregation of the last query, merges it with
// the other workers when running in parallel, and publishes it.
func (e *Executor) collect(ctx context.Context, results source.TopNResults) error {
	const op = "topn.Query"
	res, ok := results.TakeAggregation()
	if !ok {
		return model.Corruptf(op, "window aggregation requested but not returned")
	}
	if e.parallel != nil {
		if !e.claim.done {
			return model.Corruptf(op, "window aggregation before every segment was claimed")
		}
		if err := e.parallel.AppendAggregation(res, len(e.claim.segments)); err != nil {
			return err
		}
		merged, err := e.parallel.WaitAggregation(ctx)
		if err != nil {
			return err
		}
		res = merged
	}
	values, err := e.window.publish(res)
	if err != nil {
		return err
	}
	e.windowValues = values
	return nil
}
