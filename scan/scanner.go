package scan

import (
	"context"
	"fmt"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/source"
	"github.com/hupe1980/searchexec/visibility"
)

// MaxBatchSize caps the rows returned by one Next call.
const MaxBatchSize = 128_000

// Batch is the surviving rows of one segment. Scores, DocIDs and every
// non-nil column are row-aligned.
type Batch struct {
	Segment model.SegmentID
	// Scores carries the score and the visible row key of each row.
	Scores []model.SearchScore
	DocIDs []model.DocID
	// Columns has one entry per schema field. Junk fields are nil.
	Columns []*Array
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.DocIDs) }

// Addr returns the address of row i.
func (b *Batch) Addr(i int) model.DocAddress {
	return model.DocAddress{SegmentID: b.Segment, DocID: b.DocIDs[i]}
}

// Stats counts rows removed at each stage.
type Stats struct {
	Batches int
	Rows    int

	// PreFilterScanned counts rows entering the pre-filter stage.
	PreFilterScanned int
	PreFilterPruned  int
	ThresholdPruned  int
	Invisible        int
	// KeysRead counts row keys read, one per row surviving pruning.
	KeysRead int

	DictionaryAdvances int
	OrdinalsResolved   int
	OrdinalsReused     int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Batches += o.Batches
	s.Rows += o.Rows
	s.PreFilterScanned += o.PreFilterScanned
	s.PreFilterPruned += o.PreFilterPruned
	s.ThresholdPruned += o.ThresholdPruned
	s.Invisible += o.Invisible
	s.KeysRead += o.KeysRead
	s.DictionaryAdvances += o.DictionaryAdvances
	s.OrdinalsResolved += o.OrdinalsResolved
	s.OrdinalsReused += o.OrdinalsReused
}

// Options configure a Scanner.
type Options struct {
	// BatchSize bounds the rows per batch. Zero means MaxBatchSize.
	BatchSize int
	// TableOID fills the table-oid column.
	TableOID uint32
	// Thresholds prunes rows per segment. Nil disables pruning.
	Thresholds ThresholdSource
}

// Scanner turns the matches of a search into batches of visible rows with
// their fast fields materialized.
//
// Scanner is NOT thread-safe.
type Scanner struct {
	results    source.Results
	fields     []fastfield.WhichFastField
	batchSize  int
	tableOID   uint32
	thresholds ThresholdSource

	prefetched *Batch
	stats      Stats
	scratch    arena
}

// New creates a Scanner over results producing the columns of fields.
func New(results source.Results, fields []fastfield.WhichFastField, opts Options) *Scanner {
	s := &Scanner{
		results:    results,
		fields:     fields,
		tableOID:   opts.TableOID,
		thresholds: opts.Thresholds,
	}
	s.SetBatchSize(opts.BatchSize)
	return s
}

// SetBatchSize overrides the batch size, clamped to [1, MaxBatchSize].
// Zero or negative selects MaxBatchSize.
func (s *Scanner) SetBatchSize(n int) {
	if n <= 0 || n > MaxBatchSize {
		n = MaxBatchSize
	}
	s.batchSize = n
}

// BatchSize returns the current batch size.
func (s *Scanner) BatchSize() int { return s.batchSize }

// Fields returns the output schema.
func (s *Scanner) Fields() []fastfield.WhichFastField { return s.fields }

// EstimatedRows is the match count reported by the search.
func (s *Scanner) EstimatedRows() uint64 { return s.results.EstimatedDocCount() }

// Stats returns the counters accumulated so far.
func (s *Scanner) Stats() Stats { return s.stats }

// rows is the lockstep state of one batch under construction.
type rows struct {
	seg    model.SegmentID
	ids    []model.DocID
	scores []float32
	keys   []model.RowKey
	memos  map[int]*memo
}

func (r *rows) len() int { return len(r.ids) }

// retain keeps the rows marked in keep and returns how many were dropped.
func (r *rows) retain(keep []bool) int {
	before := len(r.ids)
	r.ids = compact(r.ids, keep)
	r.scores = compact(r.scores, keep)
	r.keys = compact(r.keys, keep)
	for _, m := range r.memos {
		m.retain(keep)
	}
	return before - len(r.ids)
}

// Next returns the next batch of one segment, or nil once every segment is
// consumed. Filters are applied before visibility is checked.
func (s *Scanner) Next(ctx context.Context, store *fastfield.Store, oracle visibility.Oracle, filters []PreFilter) (*Batch, error) {
	if b := s.prefetched; b != nil {
		s.prefetched = nil
		return b, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if store.Len() != len(s.fields) {
		return nil, model.Usagef("scan.Next", "store serves %d fields, schema has %d", store.Len(), len(s.fields))
	}
	for _, w := range s.fields {
		if w.Kind == fastfield.KindDeferred && !w.Type.IsTerm() {
			return nil, model.Usagef("scan.Next", "deferred column %s has non-term type %s", w.Field, w.Type)
		}
	}

	r, ok, err := s.pull(ctx)
	if err != nil || !ok {
		return nil, err
	}
	if err := s.prune(ctx, store, r, filters); err != nil {
		return nil, err
	}
	if err := s.readKeys(store, r); err != nil {
		return nil, err
	}
	if err := s.checkVisibility(ctx, oracle, r); err != nil {
		return nil, err
	}
	b, err := s.assemble(ctx, store, r)
	if err != nil {
		return nil, err
	}
	s.stats.Batches++
	s.stats.Rows += b.Len()
	return b, nil
}

// Prefetch computes the next batch now and returns it on the following
// Next call. It is a no-op while a prefetched batch is pending.
func (s *Scanner) Prefetch(ctx context.Context, store *fastfield.Store, oracle visibility.Oracle, filters []PreFilter) error {
	if s.prefetched != nil {
		return nil
	}
	b, err := s.Next(ctx, store, oracle, filters)
	if err != nil {
		return err
	}
	s.prefetched = b
	return nil
}

// pull collects up to batchSize matches of the current segment, skipping
// empty segments.
func (s *Scanner) pull(ctx context.Context) (*rows, bool, error) {
	for {
		it, ok := s.results.CurrentSegment()
		if !ok {
			return nil, false, nil
		}
		r := &rows{
			seg:    it.Segment(),
			ids:    make([]model.DocID, 0, min(s.batchSize, 1024)),
			scores: make([]float32, 0, min(s.batchSize, 1024)),
		}
		for len(r.ids) < s.batchSize {
			d, ok := it.Next()
			if !ok {
				s.results.PopSegment()
				break
			}
			if d.Addr.SegmentID != r.seg {
				return nil, false, model.Corruptf("scan.Next", "segment %d yielded %s", r.seg, d.Addr)
			}
			r.ids = append(r.ids, d.Addr.DocID)
			r.scores = append(r.scores, d.Score.Score)
		}
		if len(r.ids) > 0 {
			return r, true, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

// readKeys reads the row keys of the rows that survived pruning.
func (s *Scanner) readKeys(store *fastfield.Store, r *rows) error {
	n := r.len()
	if n == 0 {
		r.keys = r.keys[:0]
		return nil
	}
	ctid, err := store.Ctid(r.seg)
	if err != nil {
		return err
	}
	s.scratch.ctids = grow(s.scratch.ctids, n)
	s.scratch.present = grow(s.scratch.present, n)
	ctid.FirstVals(r.ids, s.scratch.ctids, s.scratch.present)
	r.keys = make([]model.RowKey, n)
	for i := range r.keys {
		if s.scratch.present[i] {
			r.keys[i] = model.RowKey(s.scratch.ctids[i])
		} else {
			r.keys[i] = model.NoRowKey
		}
	}
	s.stats.KeysRead += n
	return nil
}

// memoFor returns the fetched values of field idx, reading them once per
// batch.
func (s *Scanner) memoFor(store *fastfield.Store, r *rows, idx int) (*memo, fastfield.Column, error) {
	col, err := store.Column(r.seg, idx)
	if err != nil {
		return nil, col, err
	}
	if m, ok := r.memos[idx]; ok {
		return m, col, nil
	}
	if r.memos == nil {
		r.memos = make(map[int]*memo)
	}
	m := fetchMemo(col, r.ids)
	r.memos[idx] = m
	return m, col, nil
}

func (s *Scanner) applyFilter(ctx context.Context, store *fastfield.Store, r *rows, f PreFilter) (int, error) {
	if f.FieldIndex < 0 || f.FieldIndex >= len(s.fields) || !s.fields[f.FieldIndex].HasColumn() {
		return 0, model.Usagef("scan.Next", "pre-filter on field %d without a fast field", f.FieldIndex)
	}
	m, col, err := s.memoFor(store, r, f.FieldIndex)
	if err != nil {
		return 0, err
	}
	match, ok, err := compile(ctx, col, f)
	if err != nil {
		return 0, fmt.Errorf("pre-filter on %s: %w", s.fields[f.FieldIndex], err)
	}
	if !ok {
		return 0, nil
	}
	keep := s.scratch.keepMask(r.len())
	for i := range keep {
		if m.present[i] {
			keep[i] = match(m, i)
		} else {
			keep[i] = f.NullsPass
		}
	}
	return r.retain(keep), nil
}

// prune applies the segment thresholds and then the pre-filters.
func (s *Scanner) prune(ctx context.Context, store *fastfield.Store, r *rows, filters []PreFilter) error {
	if s.thresholds != nil {
		for _, t := range s.thresholds.Thresholds(r.seg) {
			if r.len() == 0 {
				break
			}
			n, err := s.applyFilter(ctx, store, r, t.filter())
			if err != nil {
				return err
			}
			s.stats.ThresholdPruned += n
		}
	}
	if len(filters) == 0 {
		return nil
	}
	before := r.len()
	for _, f := range filters {
		if r.len() == 0 {
			break
		}
		if _, err := s.applyFilter(ctx, store, r, f); err != nil {
			return err
		}
	}
	s.stats.PreFilterScanned += before
	s.stats.PreFilterPruned += before - r.len()
	return nil
}

func (s *Scanner) checkVisibility(ctx context.Context, oracle visibility.Oracle, r *rows) error {
	n := r.len()
	if n == 0 || oracle == nil {
		return nil
	}
	s.scratch.visible = grow(s.scratch.visible, n)
	if err := oracle.Check(ctx, r.keys, s.scratch.visible); err != nil {
		return fmt.Errorf("visibility check: %w", err)
	}
	keep := s.scratch.keepMask(n)
	for i, k := range s.scratch.visible {
		if k.Valid() {
			keep[i] = true
			r.keys[i] = k
		}
	}
	s.stats.Invisible += r.retain(keep)
	return nil
}

func (s *Scanner) assemble(ctx context.Context, store *fastfield.Store, r *rows) (*Batch, error) {
	n := r.len()
	b := &Batch{
		Segment: r.seg,
		Scores:  make([]model.SearchScore, n),
		DocIDs:  r.ids,
		Columns: make([]*Array, len(s.fields)),
	}
	for i := range n {
		b.Scores[i] = model.SearchScore{Score: r.scores[i], Key: r.keys[i]}
	}

	// Named columns first, so deferred columns over the same field can take
	// their materialized values.
	byField := make(map[string]*Array)
	for idx, w := range s.fields {
		var col *Array
		switch w.Kind {
		case fastfield.KindCtid:
			keys := make([]uint64, n)
			for i, k := range r.keys {
				keys[i] = uint64(k)
			}
			col = &Array{Kind: KindUint64, Uint64: keys}
		case fastfield.KindScore:
			col = &Array{Kind: KindFloat32, Float32: r.scores}
		case fastfield.KindTableOID:
			col = &Array{Kind: KindUint32, Uint32: repeatUint32(s.tableOID, n)}
		case fastfield.KindNamed:
			m, c, err := s.memoFor(store, r, idx)
			if err != nil {
				return nil, err
			}
			if c.Type.IsTerm() {
				col, err = resolveTerms(ctx, c.Terms.Dictionary(), m.ordinals(), c.Type == fastfield.TypeBytes, &s.scratch, &s.stats)
				if err != nil {
					return nil, fmt.Errorf("resolve %s: %w", w, err)
				}
			} else {
				col = m.toArray()
			}
			byField[w.Field] = col
		}
		b.Columns[idx] = col
	}

	for idx, w := range s.fields {
		if w.Kind != fastfield.KindDeferred {
			continue
		}
		d := &Deferred{IsBytes: w.IsBytes, Segment: r.seg}
		if col, ok := byField[w.Field]; ok && (col.Kind == KindStringView || col.Kind == KindBinaryView) {
			d.State, d.Values = StateMaterialized, col
		} else if m, ok := r.memos[idx]; ok {
			d.State, d.Ordinals = StateOrdinal, m.ordinals()
		} else {
			d.State = StateDocAddress
			d.Addresses = make([]uint64, n)
			for i, id := range r.ids {
				d.Addresses[i] = model.DocAddress{SegmentID: r.seg, DocID: id}.Pack()
			}
		}
		b.Columns[idx] = &Array{Kind: KindDeferred, Deferred: d}
	}
	return b, nil
}
