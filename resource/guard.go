package resource

import (
	"fmt"
	"sync"
)

// Guard bounds the buckets and memory one aggregation may allocate. Memory is
// reserved from a shared Controller and returned by Release.
//
// Guard is safe for concurrent use so that per-segment collectors may share
// one budget.
type Guard struct {
	ctrl       *Controller
	maxBuckets int64

	mu       sync.Mutex
	buckets  int64
	reserved int64
}

// NewGuard creates a guard over ctrl. maxBuckets <= 0 disables the bucket
// limit. A nil ctrl only tracks memory.
func NewGuard(ctrl *Controller, maxBuckets int64) *Guard {
	return &Guard{ctrl: ctrl, maxBuckets: maxBuckets}
}

// AddBuckets accounts for n newly created buckets.
func (g *Guard) AddBuckets(n int64) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxBuckets > 0 && g.buckets+n > g.maxBuckets {
		return fmt.Errorf("%w: %d buckets exceed the limit of %d", ErrBucketLimitExceeded, g.buckets+n, g.maxBuckets)
	}
	g.buckets += n
	return nil
}

// AddMemory reserves bytes for aggregation state.
func (g *Guard) AddMemory(bytes int64) error {
	if g == nil || bytes <= 0 {
		return nil
	}
	if !g.ctrl.TryReserve(bytes) {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrMemoryLimitExceeded, bytes, g.ctrl.InUse(), g.ctrl.WorkMem())
	}
	g.mu.Lock()
	g.reserved += bytes
	g.mu.Unlock()
	return nil
}

// Buckets returns the number of buckets accounted so far.
func (g *Guard) Buckets() int64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buckets
}

// Reserved returns the bytes currently held by the guard.
func (g *Guard) Reserved() int64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

// Release returns all reserved memory to the controller.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	n := g.reserved
	g.reserved = 0
	g.mu.Unlock()
	g.ctrl.Release(n)
}
