package visibility

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/searchexec/model"
)

// maxChainLength bounds how far an update chain is followed.
const maxChainLength = 64

// Oracle decides which row keys are visible to the current snapshot.
//
// Check is positional: out[i] receives the key of the visible version of
// keys[i], or model.NoRowKey when no version is visible. Input keys equal to
// model.NoRowKey are never visible. len(out) must be >= len(keys).
type Oracle interface {
	Check(ctx context.Context, keys []model.RowKey, out []model.RowKey) error
}

// HeapStats reports table tuple counts used to size top-N over-fetching.
type HeapStats interface {
	LiveTuples() uint64
	DeadTuples() uint64
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, keys []model.RowKey, out []model.RowKey) error

func (f OracleFunc) Check(ctx context.Context, keys []model.RowKey, out []model.RowKey) error {
	return f(ctx, keys, out)
}

// AllVisible reports every valid key as visible to itself.
type AllVisible struct{}

func (AllVisible) Check(_ context.Context, keys []model.RowKey, out []model.RowKey) error {
	copy(out, keys)
	return nil
}

// Stats is a fixed HeapStats.
type Stats struct {
	Live uint64
	Dead uint64
}

func (s Stats) LiveTuples() uint64 { return s.Live }
func (s Stats) DeadTuples() uint64 { return s.Dead }

// Snapshot answers visibility as of one LSN. It is immutable and safe for
// concurrent use.
type Snapshot struct {
	state      *versionState
	lsn        uint64
	allVisible *roaring64.Bitmap // nil when no visibility map applies
}

// LSN returns the snapshot LSN.
func (s *Snapshot) LSN() uint64 { return s.lsn }

// Visible resolves the visible version of key.
func (s *Snapshot) Visible(key model.RowKey) model.RowKey {
	if !key.Valid() {
		return model.NoRowKey
	}
	if s.allVisible != nil && s.allVisible.Contains(uint64(key)) {
		return key
	}

	cur := uint64(key)
	for range maxChainLength {
		chunk, off := s.state.slot(cur)
		if chunk == nil {
			return model.NoRowKey
		}
		created, deleted := chunk.created[off], chunk.deleted[off]
		if created == 0 || created > s.lsn {
			return model.NoRowKey
		}
		if deleted == 0 || deleted > s.lsn {
			return model.RowKey(cur)
		}
		next := chunk.next[off]
		if next == 0 {
			return model.NoRowKey
		}
		cur = next - 1
	}
	return model.NoRowKey
}

// Check implements Oracle.
func (s *Snapshot) Check(ctx context.Context, keys []model.RowKey, out []model.RowKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, k := range keys {
		out[i] = s.Visible(k)
	}
	return nil
}

// LiveTuples counts versions visible at the snapshot.
func (s *Snapshot) LiveTuples() uint64 {
	live, _ := s.count()
	return live
}

// DeadTuples counts versions deleted at or before the snapshot.
func (s *Snapshot) DeadTuples() uint64 {
	_, dead := s.count()
	return dead
}

func (s *Snapshot) count() (live, dead uint64) {
	for _, chunk := range s.state.chunks {
		if chunk == nil {
			continue
		}
		for j := range chunkSize {
			created, deleted := chunk.created[j], chunk.deleted[j]
			if created == 0 || created > s.lsn {
				continue
			}
			if deleted != 0 && deleted <= s.lsn {
				dead++
			} else {
				live++
			}
		}
	}
	return live, dead
}
