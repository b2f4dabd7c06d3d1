package visibility

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/searchexec/model"
)

const (
	chunkBits = 12             // 4096 rows per chunk
	chunkSize = 1 << chunkBits // 4096
	chunkMask = chunkSize - 1
)

// versionChunk holds one page of row versions. A zero LSN means "never".
// next holds the successor key plus one for updated rows.
type versionChunk struct {
	created [chunkSize]uint64
	deleted [chunkSize]uint64
	next    [chunkSize]uint64
}

// versionState is an immutable directory of chunks; chunks are copy-on-write.
type versionState struct {
	chunks []*versionChunk
}

func (st *versionState) slot(key uint64) (*versionChunk, int) {
	idx := key >> chunkBits
	if idx >= uint64(len(st.chunks)) {
		return nil, 0
	}
	return st.chunks[idx], int(key & chunkMask)
}

// Versions records when each row version was created, deleted or replaced.
//
// Reads are lock-free via an atomic state pointer. Writes are serialized
// and publish a new directory with the modified chunk copied.
type Versions struct {
	state atomic.Pointer[versionState]
	mu    sync.Mutex

	// visibility map: keys known visible to every snapshot >= vmHorizon
	vmMu      sync.RWMutex
	vm        *roaring64.Bitmap
	vmHorizon uint64
}

// NewVersions creates an empty version table sized for initialCapacity keys.
func NewVersions(initialCapacity int) *Versions {
	v := &Versions{vm: roaring64.New()}
	numChunks := (initialCapacity + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}
	v.state.Store(&versionState{chunks: make([]*versionChunk, numChunks)})
	return v
}

// Insert records that key became visible at lsn.
func (v *Versions) Insert(key model.RowKey, lsn uint64) {
	v.write(uint64(key), func(c *versionChunk, off int) {
		c.created[off] = lsn
		c.deleted[off] = 0
		c.next[off] = 0
	})
}

// Delete records that key stopped being visible at lsn. Deleting a row twice
// keeps the earlier LSN.
func (v *Versions) Delete(key model.RowKey, lsn uint64) {
	v.write(uint64(key), func(c *versionChunk, off int) {
		if d := c.deleted[off]; d == 0 || lsn < d {
			c.deleted[off] = lsn
		}
	})
	v.clearVM(key)
}

// Update replaces old with a new version stored at key next, both at lsn.
// Snapshots that no longer see old follow the chain to next.
func (v *Versions) Update(old, next model.RowKey, lsn uint64) {
	v.Insert(next, lsn)
	v.write(uint64(old), func(c *versionChunk, off int) {
		if d := c.deleted[off]; d == 0 || lsn < d {
			c.deleted[off] = lsn
		}
		c.next[off] = uint64(next) + 1
	})
	v.clearVM(old)
}

func (v *Versions) write(key uint64, fn func(*versionChunk, int)) {
	chunkIdx := int(key >> chunkBits)
	off := int(key & chunkMask)

	v.mu.Lock()
	defer v.mu.Unlock()

	curr := v.state.Load()
	chunks := curr.chunks
	if chunkIdx >= len(chunks) {
		// Double growth strategy
		n := chunkIdx + 1
		if n < 2*len(chunks) {
			n = 2 * len(chunks)
		}
		chunks = make([]*versionChunk, n)
		copy(chunks, curr.chunks)
	} else {
		chunks = make([]*versionChunk, len(curr.chunks))
		copy(chunks, curr.chunks)
	}

	var chunk *versionChunk
	if chunks[chunkIdx] != nil {
		copied := *chunks[chunkIdx]
		chunk = &copied
	} else {
		chunk = &versionChunk{}
	}
	fn(chunk, off)
	chunks[chunkIdx] = chunk

	v.state.Store(&versionState{chunks: chunks})
}

// Freeze marks every row created at or before horizon and never deleted as
// visible to all snapshots taken at or after horizon.
func (v *Versions) Freeze(horizon uint64) {
	st := v.state.Load()
	bm := roaring64.New()
	for i, chunk := range st.chunks {
		if chunk == nil {
			continue
		}
		base := uint64(i) << chunkBits
		for j := range chunkSize {
			if c := chunk.created[j]; c != 0 && c <= horizon && chunk.deleted[j] == 0 {
				bm.Add(base + uint64(j))
			}
		}
	}

	v.vmMu.Lock()
	v.vm = bm
	v.vmHorizon = horizon
	v.vmMu.Unlock()
}

func (v *Versions) clearVM(key model.RowKey) {
	v.vmMu.Lock()
	v.vm.Remove(uint64(key))
	v.vmMu.Unlock()
}

// Snapshot returns an oracle answering visibility as of lsn.
func (v *Versions) Snapshot(lsn uint64) *Snapshot {
	s := &Snapshot{state: v.state.Load(), lsn: lsn}
	v.vmMu.RLock()
	if lsn >= v.vmHorizon && !v.vm.IsEmpty() {
		s.allVisible = v.vm.Clone()
	}
	v.vmMu.RUnlock()
	return s
}
