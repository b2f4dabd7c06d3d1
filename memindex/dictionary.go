package memindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hupe1980/searchexec/fastfield"
	"github.com/hupe1980/searchexec/internal/cache"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
)

// dictionary stores the sorted distinct terms of one column in
// prefix-compressed blocks. Within a block each term is encoded as
// uvarint(prefixLen) uvarint(suffixLen) suffix, relative to the previous
// term of the block.
type dictionary struct {
	seg         model.SegmentID
	field       string
	numTerms    uint64
	blockSize   int
	compression Compression
	blocks      [][]byte
	firstTerms  [][]byte

	io    *resource.Controller
	cache cache.BlockCache
	stats *Stats
}

var _ fastfield.Dictionary = (*dictionary)(nil)

func buildDictionary(seg model.SegmentID, field string, terms [][]byte, opts *Options, stats *Stats) (*dictionary, error) {
	d := &dictionary{
		seg:         seg,
		field:       field,
		numTerms:    uint64(len(terms)),
		blockSize:   opts.BlockSize,
		compression: opts.Compression,
		io:          opts.IO,
		cache:       opts.Cache,
		stats:       stats,
	}
	var raw []byte
	for start := 0; start < len(terms); start += d.blockSize {
		end := min(start+d.blockSize, len(terms))
		raw = raw[:0]
		var prev []byte
		for _, t := range terms[start:end] {
			p := commonPrefix(prev, t)
			raw = binary.AppendUvarint(raw, uint64(p))
			raw = binary.AppendUvarint(raw, uint64(len(t)-p))
			raw = append(raw, t[p:]...)
			prev = t
		}
		block, err := compressBlock(raw, d.compression)
		if err != nil {
			return nil, fmt.Errorf("compress block %d of %q: %w", len(d.blocks), field, err)
		}
		d.blocks = append(d.blocks, block)
		d.firstTerms = append(d.firstTerms, terms[start])
	}
	return d, nil
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (d *dictionary) NumTerms() uint64 { return d.numTerms }

func (d *dictionary) BlockWithOrd(ord uint64) (fastfield.BlockAddr, bool) {
	if ord >= d.numTerms {
		return fastfield.BlockAddr{}, false
	}
	idx := int(ord / uint64(d.blockSize))
	return fastfield.BlockAddr{Index: idx, FirstOrdinal: uint64(idx) * uint64(d.blockSize)}, true
}

// OpenBlock loads, throttles and decompresses one block, or serves it from
// the block cache.
func (d *dictionary) OpenBlock(ctx context.Context, addr fastfield.BlockAddr) (fastfield.BlockReader, error) {
	if addr.Index < 0 || addr.Index >= len(d.blocks) {
		return nil, model.Corruptf("memindex.OpenBlock", "block %d of %q out of range", addr.Index, d.field)
	}
	d.stats.BlocksOpened.Add(1)

	key := cache.BlockKey{SegmentID: d.seg, Field: d.field, Block: addr.Index}
	if d.cache != nil {
		if raw, ok := d.cache.Get(ctx, key); ok {
			return &blockReader{data: raw}, nil
		}
	}

	stored := d.blocks[addr.Index]
	if d.io != nil {
		buf, err := d.io.LoadBlock(ctx, stored)
		if err != nil {
			return nil, fmt.Errorf("read block %d of %q: %w", addr.Index, d.field, err)
		}
		stored = buf
	}
	raw, err := decompressBlock(stored, d.compression)
	if err != nil {
		return nil, model.Wrap(model.CorruptionError, "memindex.OpenBlock", fmt.Errorf("block %d of %q: %w", addr.Index, d.field, err))
	}
	d.stats.BlocksDecoded.Add(1)
	if d.cache != nil {
		d.cache.Set(ctx, key, raw)
	}
	return &blockReader{data: raw}, nil
}

// SeekOrd finds the first term >= key: a binary search over the first terms
// of the blocks, then a walk of one block.
func (d *dictionary) SeekOrd(ctx context.Context, key []byte) (uint64, bool, error) {
	i := sort.Search(len(d.firstTerms), func(i int) bool {
		return bytes.Compare(d.firstTerms[i], key) > 0
	}) - 1
	if i < 0 {
		return 0, false, nil
	}
	first := uint64(i) * uint64(d.blockSize)
	br, err := d.OpenBlock(ctx, fastfield.BlockAddr{Index: i, FirstOrdinal: first})
	if err != nil {
		return 0, false, err
	}
	var term []byte
	for ord := first; ; ord++ {
		ok, err := br.Advance()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return ord, false, nil
		}
		term = append(term[:br.CommonPrefixLen()], br.Suffix()...)
		if c := bytes.Compare(term, key); c >= 0 {
			return ord, c == 0, nil
		}
	}
}

type blockReader struct {
	data   []byte
	pos    int
	prefix int
	suffix []byte
}

func (r *blockReader) Advance() (bool, error) {
	if r.pos >= len(r.data) {
		return false, nil
	}
	p, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return false, model.Corruptf("memindex.Advance", "bad prefix length at offset %d", r.pos)
	}
	r.pos += n
	l, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return false, model.Corruptf("memindex.Advance", "bad suffix length at offset %d", r.pos)
	}
	r.pos += n
	if l > uint64(len(r.data)-r.pos) {
		return false, model.Corruptf("memindex.Advance", "suffix of %d bytes overruns block", l)
	}
	r.prefix = int(p)
	r.suffix = r.data[r.pos : r.pos+int(l)]
	r.pos += int(l)
	return true, nil
}

func (r *blockReader) CommonPrefixLen() int { return r.prefix }
func (r *blockReader) Suffix() []byte       { return r.suffix }
