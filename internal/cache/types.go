package cache

import (
	"context"

	"github.com/hupe1980/searchexec/model"
)

// BlockKey identifies one dictionary block of one column.
type BlockKey struct {
	SegmentID model.SegmentID
	Field     string
	Block     int
}

// BlockCache holds decompressed dictionary blocks. Cached slices are shared
// and must be treated as read-only.
type BlockCache interface {
	Get(ctx context.Context, key BlockKey) (b []byte, ok bool)
	Set(ctx context.Context, key BlockKey, b []byte)
	// DropSegment evicts every block of seg and returns how many were held.
	DropSegment(seg model.SegmentID) int
}

// Stats describe the state of a cache.
type Stats struct {
	Hits   int64
	Misses int64
	Blocks int
	Bytes  int64
}
