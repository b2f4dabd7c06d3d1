// Package source defines the search collaborators consumed by the scanner and
// the Top-N executor: scored per-segment result streams, ordered Top-N
// retrieval with an optional aggregation riding along, and the segment-claim
// primitive shared by parallel workers.
package source

import (
	"context"
	"iter"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/visibility"
)

// ScoredIter yields the matches of one segment in source order.
type ScoredIter interface {
	Segment() model.SegmentID
	Next() (model.ScoredDoc, bool)
}

// Results is a segment-at-a-time stream of matches.
type Results interface {
	// CurrentSegment returns the iterator of the current segment, or false
	// when every segment has been popped.
	CurrentSegment() (ScoredIter, bool)

	// PopSegment advances to the next segment.
	PopSegment()

	// EstimatedDocCount is the number of matches over all segments, as known
	// before iteration.
	EstimatedDocCount() uint64
}

// AuxRequest is an aggregation computed in the same pass as a Top-N query.
type AuxRequest struct {
	Aggregations aggregate.Aggregations
	// Oracle filters the aggregated documents. Nil disables visibility
	// filtering.
	Oracle visibility.Oracle
	// Guard accounts buckets and memory. Nil means unlimited.
	Guard *resource.Guard
}

// TopNRequest asks for the window [Offset, Offset+Limit) of the matches
// ordered by OrderBy. A nil OrderBy means unordered retrieval.
type TopNRequest struct {
	OrderBy []model.OrderBy
	Limit   int
	Offset  int
	Aux     *AuxRequest
}

// TopNResults is the window returned by a Top-N query.
type TopNResults interface {
	Next() (model.ScoredDoc, bool)

	// OriginalLen is the number of results in the window before any were
	// consumed.
	OriginalLen() int

	// TakeAggregation returns the auxiliary aggregation once.
	TakeAggregation() (aggregate.Results, bool)
}

// Searcher runs Top-N queries over a fixed set of segments.
type Searcher interface {
	SegmentIDs() []model.SegmentID
	SearchTopN(ctx context.Context, segments iter.Seq[model.SegmentID], req TopNRequest) (TopNResults, error)
}

// Claimer hands out each segment to exactly one worker.
type Claimer interface {
	Claim() (model.SegmentID, bool)
}

// ParallelState coordinates the workers of one parallel query.
type ParallelState interface {
	Claimer

	// AppendAggregation contributes one worker's partial aggregation, computed
	// over segments claimed segments.
	AppendAggregation(res aggregate.Results, segments int) error

	// WaitAggregation blocks until every segment is accounted for and returns
	// the merged aggregation.
	WaitAggregation(ctx context.Context) (aggregate.Results, error)
}
