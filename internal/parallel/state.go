// Package parallel runs one query on several workers. Workers claim
// segments from a shared State, and their partial window aggregations are
// merged there before every worker finalizes the same result.
package parallel

import (
	"context"
	"sync"

	"github.com/hupe1980/searchexec/aggregate"
	"github.com/hupe1980/searchexec/internal/aggexec"
	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/source"
)

var _ source.ParallelState = (*State)(nil)

// State hands out each segment once and gathers partial aggregations until
// every segment is accounted for.
type State struct {
	mu        sync.Mutex
	segments  []model.SegmentID
	next      int
	accounted int
	merged    aggregate.Results
	done      chan struct{}
}

// NewState creates a state over segments.
func NewState(segments []model.SegmentID) *State {
	s := &State{segments: segments, done: make(chan struct{})}
	if len(segments) == 0 {
		close(s.done)
	}
	return s
}

// Claim implements source.Claimer.
func (s *State) Claim() (model.SegmentID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.segments) {
		return 0, false
	}
	id := s.segments[s.next]
	s.next++
	return id, true
}

// Claimed returns the number of segments handed out.
func (s *State) Claimed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// AppendAggregation implements source.ParallelState.
func (s *State) AppendAggregation(res aggregate.Results, segments int) error {
	const op = "parallel.AppendAggregation"
	if segments < 0 {
		return model.Usagef(op, "negative segment count %d", segments)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounted+segments > len(s.segments) {
		return model.Corruptf(op, "%d segments accounted, only %d exist", s.accounted+segments, len(s.segments))
	}
	s.merged = aggexec.Merge(s.merged, res)
	if segments == 0 {
		return nil
	}
	s.accounted += segments
	if s.accounted == len(s.segments) {
		close(s.done)
	}
	return nil
}

// WaitAggregation implements source.ParallelState. Each caller receives its
// own copy of the merged result.
func (s *State) WaitAggregation(ctx context.Context) (aggregate.Results, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged.Clone(), nil
}
