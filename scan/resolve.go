package scan

import (
	"context"
	"slices"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/conv"
	"github.com/hupe1980/searchexec/model"
)

// resolveTerms turns term ordinals into a view array. Rows are visited in
// ordinal order so the dictionary is walked forward once; each distinct
// ordinal is decoded once and appended to the shared buffer, and a repeated
// ordinal reuses the previous view. nullOrdinal rows stay null.
func resolveTerms(ctx context.Context, dict fastfield.Dictionary, ords []uint64, isBytes bool, a *arena, st *Stats) (*Array, error) {
	n := len(ords)
	out := &Array{Kind: KindStringView, Views: make([]View, n)}
	if isBytes {
		out.Kind = KindBinaryView
	}

	order := a.sortOrder(n)
	slices.SortFunc(order, func(x, y int) int {
		switch {
		case ords[x] < ords[y]:
			return -1
		case ords[x] > ords[y]:
			return 1
		}
		return x - y
	})

	var (
		valid    []bool
		br       fastfield.BlockReader
		block    = -1
		next     uint64 // ordinal of the term the next Advance decodes
		term     []byte
		prevOrd  = nullOrdinal
		prevView View
	)
	for _, row := range order {
		ord := ords[row]
		if ord == nullOrdinal {
			// Null ordinals sort last.
			if valid == nil {
				valid = make([]bool, n)
				for i := range valid {
					valid[i] = true
				}
			}
			valid[row] = false
			continue
		}
		if ord == prevOrd {
			out.Views[row] = prevView
			st.OrdinalsReused++
			continue
		}

		addr, ok := dict.BlockWithOrd(ord)
		if !ok {
			return nil, model.Corruptf("scan.resolveTerms", "ordinal %d not in dictionary", ord)
		}
		if addr.Index != block {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := dict.OpenBlock(ctx, addr)
			if err != nil {
				return nil, err
			}
			br, block, next, term = r, addr.Index, addr.FirstOrdinal, term[:0]
		}
		for ; next <= ord; next++ {
			more, err := br.Advance()
			if err != nil {
				return nil, err
			}
			if !more {
				return nil, model.Corruptf("scan.resolveTerms", "ordinal %d not in dictionary", ord)
			}
			st.DictionaryAdvances++
			term = append(term[:br.CommonPrefixLen()], br.Suffix()...)
		}

		off, err := conv.IntToUint32(len(out.Buffer))
		if err != nil {
			return nil, model.Corruptf("scan.resolveTerms", "term buffer: %v", err)
		}
		ln, err := conv.IntToUint32(len(term))
		if err != nil {
			return nil, model.Corruptf("scan.resolveTerms", "term length: %v", err)
		}
		out.Buffer = append(out.Buffer, term...)
		prevOrd, prevView = ord, View{Offset: off, Len: ln}
		out.Views[row] = prevView
		st.OrdinalsResolved++
	}
	out.Valid = valid
	return out, nil
}

// Resolve materializes a deferred column of one batch. Addresses are read
// through store, whose field idx must be the deferred column itself.
// Materialized columns are returned as is.
func Resolve(ctx context.Context, store *fastfield.Store, idx int, col *Array) (*Array, error) {
	if col == nil || col.Kind != KindDeferred {
		return col, nil
	}
	d := col.Deferred
	var a arena
	var st Stats
	switch d.State {
	case StateMaterialized:
		return d.Values, nil
	case StateOrdinal:
		c, err := store.Column(d.Segment, idx)
		if err != nil {
			return nil, err
		}
		if !c.Type.IsTerm() {
			return nil, model.Corruptf("scan.Resolve", "deferred field %d is %s, not a term column", idx, c.Type)
		}
		return resolveTerms(ctx, c.Terms.Dictionary(), d.Ordinals, d.IsBytes, &a, &st)
	}

	if len(d.Addresses) == 0 {
		return resolveTerms(ctx, nil, nil, d.IsBytes, &a, &st)
	}
	// Addresses of one batch share a segment.
	seg := model.UnpackDocAddress(d.Addresses[0]).SegmentID
	ids := make([]model.DocID, len(d.Addresses))
	for i, p := range d.Addresses {
		addr := model.UnpackDocAddress(p)
		if addr.SegmentID != seg {
			return nil, model.Usagef("scan.Resolve", "deferred column spans segments %d and %d", seg, addr.SegmentID)
		}
		ids[i] = addr.DocID
	}
	c, err := store.Column(seg, idx)
	if err != nil {
		return nil, err
	}
	if !c.Type.IsTerm() {
		return nil, model.Corruptf("scan.Resolve", "deferred field %d is %s, not a term column", idx, c.Type)
	}
	return resolveTerms(ctx, c.Terms.Dictionary(), fetchMemo(c, ids).ordinals(), d.IsBytes, &a, &st)
}
