package memindex

import (
	"cmp"
	"context"
	"iter"
	"slices"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/internal/aggexec"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/source"
)

// Scan returns the matches of q in the given segments, segment by segment
// in the order given and by DocID within a segment. Nil segs scans every
// segment.
func (x *Index) Scan(q query.Query, segs []model.SegmentID) (source.Results, error) {
	if err := q.Validate(); err != nil {
		return nil, model.Wrap(model.UsageError, "memindex.Scan", err)
	}
	if segs == nil {
		segs = x.SegmentIDs()
	}
	r := &results{}
	for _, id := range segs {
		s, err := x.segment(id)
		if err != nil {
			return nil, err
		}
		var docs []model.ScoredDoc
		for i := range s.docs {
			if q.Matches(docView{&s.docs[i]}) {
				docs = append(docs, scored(s, i))
			}
		}
		r.segs = append(r.segs, &segmentIter{seg: id, docs: docs})
		r.estimate += uint64(len(docs))
	}
	return r, nil
}

func scored(s *segment, i int) model.ScoredDoc {
	d := &s.docs[i]
	return model.ScoredDoc{
		Score: model.SearchScore{Score: d.Score, Key: d.Key},
		Addr:  model.DocAddress{SegmentID: s.id, DocID: model.DocID(i)},
	}
}

type results struct {
	segs     []*segmentIter
	estimate uint64
}

func (r *results) CurrentSegment() (source.ScoredIter, bool) {
	if len(r.segs) == 0 {
		return nil, false
	}
	return r.segs[0], true
}

func (r *results) PopSegment() {
	if len(r.segs) > 0 {
		r.segs = r.segs[1:]
	}
}

func (r *results) EstimatedDocCount() uint64 { return r.estimate }

type segmentIter struct {
	seg  model.SegmentID
	docs []model.ScoredDoc
	pos  int
}

func (it *segmentIter) Segment() model.SegmentID { return it.seg }

func (it *segmentIter) Next() (model.ScoredDoc, bool) {
	if it.pos >= len(it.docs) {
		return model.ScoredDoc{}, false
	}
	d := it.docs[it.pos]
	it.pos++
	return d, true
}

// Searcher runs Top-N queries for one base query.
type Searcher struct {
	index *Index
	query query.Query

	// Calls counts SearchTopN invocations.
	Calls int
	// Requests records every request, in order.
	Requests []source.TopNRequest
}

var _ source.Searcher = (*Searcher)(nil)

// Searcher returns a Top-N searcher over the matches of q.
func (x *Index) Searcher(q query.Query) (*Searcher, error) {
	if err := q.Validate(); err != nil {
		return nil, model.Wrap(model.UsageError, "memindex.Searcher", err)
	}
	return &Searcher{index: x, query: q}, nil
}

// TopN is Searcher typed as a source.Searcher.
func (x *Index) TopN(q query.Query) (source.Searcher, error) {
	s, err := x.Searcher(q)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SegmentIDs implements source.Searcher.
func (s *Searcher) SegmentIDs() []model.SegmentID { return s.index.SegmentIDs() }

type match struct {
	seg *segment
	doc int
}

func (m match) value(field string) model.Value {
	return docView{&m.seg.docs[m.doc]}.Value(field)
}

// SearchTopN implements source.Searcher. Ordered queries sort by the
// requested keys with nulls last, then by address. The auxiliary
// aggregation covers every match, not just the window.
func (s *Searcher) SearchTopN(ctx context.Context, segments iter.Seq[model.SegmentID], req source.TopNRequest) (source.TopNResults, error) {
	if req.Limit < 0 || req.Offset < 0 {
		return nil, model.Usagef("memindex.SearchTopN", "negative limit %d or offset %d", req.Limit, req.Offset)
	}
	s.Calls++
	s.Requests = append(s.Requests, req)

	var matches []match
	for id := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := s.index.segment(id)
		if err != nil {
			return nil, err
		}
		for i := range seg.docs {
			if s.query.Matches(docView{&seg.docs[i]}) {
				matches = append(matches, match{seg: seg, doc: i})
			}
		}
	}

	out := &topNResults{}
	if req.Aux != nil {
		docs := func(yield func(aggexec.Doc) bool) {
			for _, m := range matches {
				if !yield(docView{&m.seg.docs[m.doc]}) {
					return
				}
			}
		}
		res, err := aggexec.Execute(ctx, req.Aux.Aggregations, docs, aggexec.Options{
			Oracle: req.Aux.Oracle,
			Guard:  req.Aux.Guard,
		})
		if err != nil {
			return nil, err
		}
		out.agg, out.hasAgg = res, true
	}

	if req.OrderBy != nil {
		slices.SortStableFunc(matches, matchOrder(req.OrderBy))
	}
	start := min(req.Offset, len(matches))
	end := min(start+req.Limit, len(matches))
	for _, m := range matches[start:end] {
		out.docs = append(out.docs, scored(m.seg, m.doc))
	}
	out.original = len(out.docs)
	return out, nil
}

func matchOrder(orderBy []model.OrderBy) func(a, b match) int {
	return func(a, b match) int {
		for _, o := range orderBy {
			var c int
			if o.IsScore() {
				c = cmp.Compare(a.seg.docs[a.doc].Score, b.seg.docs[b.doc].Score)
			} else {
				va, vb := a.value(o.Field), b.value(o.Field)
				switch {
				case va.IsNull() && vb.IsNull():
				case va.IsNull():
					// Nulls sort last in both directions.
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
		if c := cmp.Compare(a.seg.id, b.seg.id); c != 0 {
			return c
		}
		return cmp.Compare(a.doc, b.doc)
	}
}

type topNResults struct {
	docs     []model.ScoredDoc
	pos      int
	original int
	agg      aggregate.Results
	hasAgg   bool
}

func (r *topNResults) Next() (model.ScoredDoc, bool) {
	if r.pos >= len(r.docs) {
		return model.ScoredDoc{}, false
	}
	d := r.docs[r.pos]
	r.pos++
	return d, true
}

func (r *topNResults) OriginalLen() int { return r.original }

func (r *topNResults) TakeAggregation() (aggregate.Results, bool) {
	if !r.hasAgg {
		return nil, false
	}
	res := r.agg
	r.agg, r.hasAgg = nil, false
	return res, true
}
