package topn

import (
	"context"
	"time"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/internal/conv"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/source"
	"github.com/hupe1980/searchexec/visibility"
)

// QueryEvent describes one query issued by the executor.
type QueryEvent struct {
	Offset   int
	Limit    int
	Returned int
	// Retry is set for every query after the first of a scan.
	Retry     bool
	Exhausted bool
	Duration  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithWindowAggregates computes ws in the same pass as the first ordered
// query.
func WithWindowAggregates(ws ...WindowAggregate) Option {
	return func(e *Executor) { e.windowAggs = append(e.windowAggs, ws...) }
}

// WithParallel makes the executor one worker of a parallel query: segments
// are claimed from ps and window aggregates are merged through it.
func WithParallel(ps source.ParallelState) Option {
	return func(e *Executor) { e.parallel = ps }
}

// WithOracle filters window aggregates by visibility unless a custom
// aggregate disables it.
func WithOracle(o visibility.Oracle) Option {
	return func(e *Executor) { e.oracle = o }
}

// WithController bounds window aggregate memory through c.
func WithController(c *resource.Controller) Option {
	return func(e *Executor) { e.ctrl = c }
}

// WithObserver is called after every query.
func WithObserver(fn func(QueryEvent)) Option {
	return func(e *Executor) { e.observe = fn }
}

// Executor retrieves the first limit visible matches of an ordered or
// unordered search.
//
// The index does not know which matches are visible, so the executor
// over-fetches by a factor derived from the heap's dead tuple ratio. The
// caller checks each candidate and reports visible ones through
// IncrementVisible. When a round runs dry before limit rows were confirmed,
// the executor grows its chunk size and queries the following window.
//
// An Executor is not safe for concurrent use.
type Executor struct {
	searcher source.Searcher
	limit    int
	orderBy  []model.OrderBy
	settings Settings
	scale    float64

	windowAggs   []WindowAggregate
	window       *window
	windowValues map[int]aggregate.Value
	parallel     source.ParallelState
	oracle       visibility.Oracle
	ctrl         *resource.Controller
	observe      func(QueryEvent)

	results   source.TopNResults
	claim     claimState
	didQuery  bool
	exhausted bool
	found     int
	offset    int
	chunkSize int
	queries   int
}

// New creates an executor for the first limit rows of searcher's matches.
// A nil orderBy requests unordered retrieval. stats estimates the share of
// invisible candidates; nil stats count as an empty heap.
func New(searcher source.Searcher, limit int, orderBy []model.OrderBy, stats visibility.HeapStats, s Settings, opts ...Option) (*Executor, error) {
	const op = "topn.New"
	if searcher == nil {
		return nil, model.Usagef(op, "nil searcher")
	}
	if limit < 0 {
		return nil, model.Usagef(op, "negative limit %d", limit)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.withDefaults()
	if len(orderBy) > s.MaxFeatures {
		return nil, model.Usagef(op, "cannot sort by more than %d features, got %d", s.MaxFeatures, len(orderBy))
	}

	e := &Executor{
		searcher: searcher,
		limit:    limit,
		orderBy:  orderBy,
		settings: s,
		scale:    ScaleFactor(stats, s.LimitFetchMultiplier),
	}
	for _, opt := range opts {
		opt(e)
	}

	w, err := prepareWindow(e.windowAggs, s)
	if err != nil {
		return nil, err
	}
	if w != nil && orderBy == nil {
		return nil, model.Usagef(op, "window aggregates require an ordered query")
	}
	e.window = w
	return e, nil
}

// ScaleFactor is (1 + (1+dead)/(1+live)) * multiplier.
func ScaleFactor(stats visibility.HeapStats, multiplier float64) float64 {
	var live, dead float64
	if stats != nil {
		live, dead = float64(stats.LiveTuples()), float64(stats.DeadTuples())
	}
	return (1 + (1+dead)/(1+live)) * multiplier
}

// Query fetches the next window of candidates. It reports whether the query
// returned anything; it does not query once limit rows were found or the
// matches are exhausted.
func (e *Executor) Query(ctx context.Context) (bool, error) {
	const op = "topn.Query"
	e.didQuery = true
	if e.found >= e.limit || e.exhausted {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.queries++

	// limit > 0 here, so every query asks for at least one row.
	localLimit := max(conv.FloorInt(float64(e.limit)*e.scale), e.chunkSize, 1)
	nextOffset, err := conv.AddInt(e.offset, localLimit)
	if err != nil {
		return false, model.Wrap(model.UsageError, op, err)
	}

	req := source.TopNRequest{OrderBy: e.orderBy, Limit: localLimit, Offset: e.offset}
	collect := e.window != nil && e.windowValues == nil
	var guard *resource.Guard
	if collect {
		guard = resource.NewGuard(e.ctrl, int64(e.settings.MaxTermAggBuckets))
		defer guard.Release()
		aux := &source.AuxRequest{Aggregations: e.window.plan.Aggregations, Guard: guard}
		if e.window.mvcc {
			aux.Oracle = e.oracle
		}
		req.Aux = aux
	}

	start := time.Now()
	results, err := e.searcher.SearchTopN(ctx, e.segmentsToQuery(ctx), req)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.results = results
	if collect {
		if err := e.collect(ctx, results); err != nil {
			return false, err
		}
	}

	returned := results.OriginalLen()
	e.offset = nextOffset
	e.exhausted = returned < localLimit
	if e.observe != nil {
		e.observe(QueryEvent{
			Offset:    nextOffset - localLimit,
			Limit:     localLimit,
			Returned:  returned,
			Retry:     e.queries > 1,
			Exhausted: e.exhausted,
			Duration:  time.Since(start),
		})
	}
	return returned > 0, nil
}

// Next returns the next candidate, or false once limit visible rows were
// reported or the matches are exhausted. The first call issues the first
// query. Candidates are not checked for visibility.
func (e *Executor) Next(ctx context.Context) (model.ScoredDoc, bool, error) {
	if !e.didQuery {
		if _, err := e.Query(ctx); err != nil {
			return model.ScoredDoc{}, false, err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return model.ScoredDoc{}, false, err
		}
		if e.found >= e.limit {
			return model.ScoredDoc{}, false, nil
		}
		if e.results != nil {
			if doc, ok := e.results.Next(); ok {
				return doc, true, nil
			}
		}

		retry := e.settings.RetryScaleFactor
		e.chunkSize = min(
			max(conv.SaturatingMul(max(e.chunkSize, 1), retry), conv.FloorInt(float64(e.limit)*e.scale*float64(retry))),
			e.settings.MaxChunkSize,
		)
		ok, err := e.Query(ctx)
		if err != nil {
			return model.ScoredDoc{}, false, err
		}
		if !ok {
			return model.ScoredDoc{}, false, nil
		}
	}
}

// IncrementVisible reports that the last candidate was visible.
func (e *Executor) IncrementVisible() { e.found++ }

// Reset rewinds the executor for a rescan. Claimed segments are forgotten;
// published window aggregates are kept.
func (e *Executor) Reset() {
	e.claim = claimState{}
	e.results = nil
	e.didQuery = false
	e.exhausted = false
	e.chunkSize = 0
	e.found = 0
	e.offset = 0
}

// WindowValues returns the window aggregates by target index, once the
// first query ran.
func (e *Executor) WindowValues() (map[int]aggregate.Value, bool) {
	return e.windowValues, e.windowValues != nil
}

// Limit returns the requested number of visible rows.
func (e *Executor) Limit() int { return e.limit }

// Scale returns the over-fetch factor.
func (e *Executor) Scale() float64 { return e.scale }

// Found returns the number of rows reported visible.
func (e *Executor) Found() int { return e.found }

// Offset returns the offset of the next query.
func (e *Executor) Offset() int { return e.offset }

// ChunkSize returns the current minimum fetch size.
func (e *Executor) ChunkSize() int { return e.chunkSize }

// Exhausted reports whether the last query returned fewer rows than asked.
func (e *Executor) Exhausted() bool { return e.exhausted }

// Queries returns the number of queries issued since construction.
func (e *Executor) Queries() int { return e.queries }
