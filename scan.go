package searchexec

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/parallel"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/scan"
)

// ScanQuery streams every visible match of Query in columnar batches.
type ScanQuery struct {
	Query  query.Query
	Fields []fastfield.WhichFastField
	// PreFilters drop rows before their visibility is checked.
	PreFilters []scan.PreFilter
	// Thresholds prune rows that cannot enter a running top-K.
	Thresholds scan.ThresholdSource
	TableOID   uint32
}

// Batch is one scanned batch and the fast fields it was read from.
type Batch struct {
	*scan.Batch
	store *fastfield.Store
}

// Resolve materializes the deferred column idx.
func (b *Batch) Resolve(ctx context.Context, idx int) (*scan.Array, error) {
	if idx < 0 || idx >= len(b.Columns) {
		return nil, model.Usagef("searchexec.Resolve", "column %d out of range", idx)
	}
	return scan.Resolve(ctx, b.store, idx, b.Columns[idx])
}

// Scan calls fn for every non-empty batch of q. With several workers each
// claims whole segments, batches arrive in no particular order, and fn is
// never called concurrently.
func (e *Engine) Scan(ctx context.Context, q ScanQuery, fn func(ctx context.Context, b *Batch) error) (scan.Stats, error) {
	var (
		mu    sync.Mutex
		total scan.Stats
	)
	emit := func(ctx context.Context, b *Batch) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx, b)
	}

	if e.opts.workers == 1 {
		st, err := e.scanSegments(ctx, q, nil, false, emit)
		return st, translateError(err)
	}

	state := parallel.NewState(e.index.SegmentIDs())
	err := parallel.Run(ctx, e.opts.workers, func(ctx context.Context, w int) error {
		var st scan.Stats
		for {
			seg, ok := state.Claim()
			if !ok {
				break
			}
			s, err := e.scanSegments(ctx, q, []model.SegmentID{seg}, true, emit)
			st.Add(s)
			if err != nil {
				return err
			}
		}
		mu.Lock()
		total.Add(st)
		mu.Unlock()
		return nil
	})
	return total, translateError(err)
}

// scanSegments runs one scanner over segs, or every segment when nil. With
// prefetch the following batch is computed before emit waits for its turn.
func (e *Engine) scanSegments(ctx context.Context, q ScanQuery, segs []model.SegmentID, prefetch bool, emit func(context.Context, *Batch) error) (scan.Stats, error) {
	results, err := e.index.Scan(q.Query, segs)
	if err != nil {
		return scan.Stats{}, err
	}
	sc := scan.New(results, q.Fields, scan.Options{
		BatchSize:  e.opts.batchSize,
		TableOID:   q.TableOID,
		Thresholds: q.Thresholds,
	})
	store := fastfield.NewStore(e.index, q.Fields)

	var (
		prev  scan.Stats
		ahead time.Duration // spent computing the pending prefetched batch
	)
	for {
		start := time.Now()
		b, err := sc.Next(ctx, store, e.opts.oracle, q.PreFilters)
		if err != nil {
			return sc.Stats(), err
		}
		if b == nil {
			return sc.Stats(), nil
		}
		st := sc.Stats()
		pruned := st.PreFilterPruned - prev.PreFilterPruned + st.ThresholdPruned - prev.ThresholdPruned
		e.opts.metricsCollector.RecordBatch(b.Len(), pruned, st.Invisible-prev.Invisible, time.Since(start)+ahead)
		e.opts.logger.LogBatch(ctx, uint32(b.Segment), b.Len(), st)
		prev, ahead = st, 0

		if b.Len() == 0 {
			continue
		}
		if prefetch {
			start = time.Now()
			if err := sc.Prefetch(ctx, store, e.opts.oracle, q.PreFilters); err != nil {
				return sc.Stats(), err
			}
			ahead = time.Since(start)
		}
		if err := emit(ctx, &Batch{Batch: b, store: store}); err != nil {
			return sc.Stats(), err
		}
	}
}
