package searchexec

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/parallel"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/source"
	"github.com/hupe1980/searchexec/topn"
)

// TopNQuery asks for the first Limit visible matches of Query.
type TopNQuery struct {
	Query query.Query
	// OrderBy sorts the matches. Nil means any order.
	OrderBy []model.OrderBy
	Limit   int
	// Fields are the output columns of each row.
	Fields   []fastfield.WhichFastField
	TableOID uint32
	// Window aggregates are computed over every visible match.
	Window []topn.WindowAggregate
}

// Row is one visible Top-N row.
type Row struct {
	Addr  model.DocAddress
	Key   model.RowKey
	Score float32
	// Values holds one value per requested field.
	Values []model.Value
}

// TopNResult is the outcome of a Top-N retrieval.
type TopNResult struct {
	Rows []Row
	// Window maps output columns to window aggregate values.
	Window map[int]aggregate.Value
	// Queries is the number of index queries issued, over all workers.
	Queries int
}

// TopN returns the first q.Limit visible rows of q.
func (e *Engine) TopN(ctx context.Context, q TopNQuery) (*TopNResult, error) {
	start := time.Now()
	res, err := e.topN(ctx, q)
	err = translateError(err)

	var found, queries int
	if res != nil {
		found, queries = len(res.Rows), res.Queries
	}
	e.opts.metricsCollector.RecordQuery(q.Limit, found, queries, time.Since(start), err)
	e.opts.logger.LogQuery(ctx, q.Limit, found, queries, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) topN(ctx context.Context, q TopNQuery) (*TopNResult, error) {
	if e.opts.workers == 1 {
		w, err := e.runTopN(ctx, q, nil, e.opts.logger)
		if err != nil {
			return nil, err
		}
		return &TopNResult{Rows: w.rows, Window: w.window, Queries: w.queries}, nil
	}

	sortCols, err := sortColumns(q)
	if err != nil {
		return nil, err
	}
	state := parallel.NewState(e.index.SegmentIDs())
	outs := make([]*topNWorker, e.opts.workers)
	err = parallel.Run(ctx, e.opts.workers, func(ctx context.Context, w int) error {
		out, err := e.runTopN(ctx, q, state, e.opts.logger.WithWorker(w))
		outs[w] = out
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &TopNResult{}
	for _, out := range outs {
		res.Rows = append(res.Rows, out.rows...)
		res.Queries += out.queries
		if res.Window == nil {
			res.Window = out.window
		}
	}
	if q.OrderBy != nil {
		slices.SortStableFunc(res.Rows, rowOrder(q.OrderBy, sortCols))
	}
	if len(res.Rows) > q.Limit {
		res.Rows = res.Rows[:q.Limit]
	}
	return res, nil
}

type topNWorker struct {
	rows    []Row
	window  map[int]aggregate.Value
	queries int
}

func (e *Engine) runTopN(ctx context.Context, q TopNQuery, ps source.ParallelState, log *Logger) (*topNWorker, error) {
	searcher, err := e.index.TopN(q.Query)
	if err != nil {
		return nil, err
	}
	opts := []topn.Option{
		topn.WithOracle(e.opts.oracle),
		topn.WithController(e.opts.controller),
		topn.WithWindowAggregates(q.Window...),
		topn.WithObserver(func(ev topn.QueryEvent) {
			if ev.Retry {
				e.opts.metricsCollector.RecordRetry(ev.Limit)
				log.LogRetry(ctx, ev.Offset, ev.Limit, ev.Returned)
			}
		}),
	}
	if ps != nil {
		opts = append(opts, topn.WithParallel(ps))
	}
	ex, err := topn.New(searcher, q.Limit, q.OrderBy, e.opts.stats, e.opts.settings, opts...)
	if err != nil {
		return nil, err
	}

	store := fastfield.NewStore(e.index, q.Fields)
	out := &topNWorker{}
	keys, visible := make([]model.RowKey, 1), make([]model.RowKey, 1)
	for {
		d, ok, err := ex.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		keys[0] = d.Score.Key
		if err := e.opts.oracle.Check(ctx, keys, visible); err != nil {
			return nil, fmt.Errorf("visibility check: %w", err)
		}
		if !visible[0].Valid() {
			continue
		}
		ex.IncrementVisible()

		row := Row{Addr: d.Addr, Key: visible[0], Score: d.Score.Score, Values: make([]model.Value, len(q.Fields))}
		for i, f := range q.Fields {
			v, err := fieldValue(ctx, store, i, f, &row, q.TableOID)
			if err != nil {
				return nil, &FieldError{Field: f.Name(), cause: err}
			}
			row.Values[i] = v
		}
		out.rows = append(out.rows, row)
	}
	out.window, _ = ex.WindowValues()
	out.queries = ex.Queries()
	return out, nil
}

func fieldValue(ctx context.Context, store *fastfield.Store, idx int, f fastfield.WhichFastField, row *Row, tableOID uint32) (model.Value, error) {
	switch f.Kind {
	case fastfield.KindCtid:
		return model.U64(uint64(row.Key)), nil
	case fastfield.KindScore:
		return model.F64(float64(row.Score)), nil
	case fastfield.KindTableOID:
		return model.U64(uint64(tableOID)), nil
	case fastfield.KindJunk:
		return model.Null, nil
	}
	return store.Value(ctx, idx, row.Addr)
}

// sortColumns maps each ORDER BY key to the output column holding it. Rows
// of parallel workers are merged on these values.
func sortColumns(q TopNQuery) ([]int, error) {
	cols := make([]int, len(q.OrderBy))
	for i, o := range q.OrderBy {
		if o.IsScore() {
			cols[i] = -1
			continue
		}
		cols[i] = slices.IndexFunc(q.Fields, func(f fastfield.WhichFastField) bool {
			return f.HasColumn() && f.Field == o.Field
		})
		if cols[i] < 0 {
			return nil, model.Usagef("searchexec.TopN", "parallel retrieval needs order key %q among the output fields", o.Field)
		}
	}
	return cols, nil
}

// rowOrder sorts nulls last in both directions and breaks ties by address.
func rowOrder(orderBy []model.OrderBy, cols []int) func(a, b Row) int {
	return func(a, b Row) int {
		for i, o := range orderBy {
			var c int
			if cols[i] < 0 {
				c = cmp.Compare(a.Score, b.Score)
			} else {
				va, vb := a.Values[cols[i]], b.Values[cols[i]]
				switch {
				case va.IsNull() && vb.IsNull():
				case va.IsNull():
					return 1
				case vb.IsNull():
					return -1
				default:
					c = model.Compare(va, vb)
				}
			}
			if o.Direction == model.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Addr.Pack(), b.Addr.Pack())
	}
}
