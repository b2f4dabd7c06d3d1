package searchexec

import (
	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/query"
	"github.com/hupe1980/searchexec/source"
)

// Index is the searchable data an Engine reads: fast-field segments, a
// segment-at-a-time match stream, and ordered Top-N retrieval.
type Index interface {
	fastfield.Source
	SegmentIDs() []model.SegmentID
	Scan(q query.Query, segs []model.SegmentID) (source.Results, error)
	TopN(q query.Query) (source.Searcher, error)
}

// Engine executes Top-N retrievals, batch scans and aggregations over one
// index. An Engine holds no per-query state and is safe for concurrent use.
type Engine struct {
	index Index
	opts  options
}

// New creates an engine over idx.
func New(idx Index, optFns ...Option) (*Engine, error) {
	if idx == nil {
		return nil, model.Wrap(model.UsageError, "searchexec.New", ErrNilIndex)
	}
	o := applyOptions(optFns)
	if err := o.settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{index: idx, opts: o}, nil
}

// Logger returns the configured logger.
func (e *Engine) Logger() *Logger { return e.opts.logger }

// Workers returns the number of parallel workers.
func (e *Engine) Workers() int { return e.opts.workers }
