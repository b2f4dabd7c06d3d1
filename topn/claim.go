package topn

import (
	"context"
	"iter"

	"github.com/hupe1980/searchexec/model"
)

// claimState records the segments a parallel worker took. Until done, a
// query claims lazily one segment at a time; afterwards every query replays
// exactly the recorded list so that re-queries see the same documents.
type claimState struct {
	segments []model.SegmentID
	done     bool
}

// segmentsToQuery enumerates the segments of one query.
func (e *Executor) segmentsToQuery(ctx context.Context) iter.Seq[model.SegmentID] {
	switch {
	case e.parallel == nil:
		return e.emit(ctx, e.searcher.SegmentIDs())
	case e.claim.done:
		return e.emit(ctx, e.claim.segments)
	}
	return func(yield func(model.SegmentID) bool) {
		for ctx.Err() == nil {
			id, ok := e.parallel.Claim()
			if !ok {
				e.claim.done = true
				return
			}
			e.claim.segments = append(e.claim.segments, id)
			if !yield(id) {
				return
			}
		}
	}
}

func (e *Executor) emit(ctx context.Context, ids []model.SegmentID) iter.Seq[model.SegmentID] {
	return func(yield func(model.SegmentID) bool) {
		for _, id := range ids {
			if ctx.Err() != nil || !yield(id) {
				return
			}
		}
	}
}
