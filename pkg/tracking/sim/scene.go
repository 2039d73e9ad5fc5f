// Package sim provides an in-memory tracking backend: a scene that tests
// and demos edit directly, polled through the same Provider contract as a
// hardware backend.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Scene is a scripted set of records. It implements subsystem.Provider.
type Scene[T trackable.Trackable] struct {
	mu      sync.Mutex
	records []T
	index   map[trackable.ID]int
	differ  *changes.Differ[T]

	failure error
	latency time.Duration
	running bool
}

// NewScene creates an empty scene; equal decides what counts as an update
func NewScene[T trackable.Trackable](equal func(prev, next T) bool) *Scene[T] {
	return &Scene[T]{
		index:  make(map[trackable.ID]int),
		differ: changes.NewDiffer(equal),
	}
}

// Put adds rec, or replaces the record with the same ID in place
func (s *Scene[T]) Put(rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.TrackableID()
	if i, ok := s.index[id]; ok {
		s.records[i] = rec
		return
	}
	s.index[id] = len(s.records)
	s.records = append(s.records, rec)
}

// Remove drops the record with id, reporting whether it was present
func (s *Scene[T]) Remove(id trackable.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.records); j++ {
		s.index[s.records[j].TrackableID()] = j
	}
	return true
}

// Get returns the current record for id
func (s *Scene[T]) Get(id trackable.ID) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.records[i], true
}

// Records returns a copy of the scene in insertion order
func (s *Scene[T]) Records() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.records))
	copy(out, s.records)
	return out
}

// Clear empties the scene
func (s *Scene[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records[:0]
	clear(s.index)
}

// Fail makes every Poll fail with err until Fail(nil)
func (s *Scene[T]) Fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// SetLatency delays every Poll by d, honouring context cancellation
func (s *Scene[T]) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Watermark returns the number of successful polls
func (s *Scene[T]) Watermark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.differ.Watermark()
}

// Start implements subsystem.Provider
func (s *Scene[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

// Stop implements subsystem.Provider. The watermark is kept, so polls
// after a restart report changes relative to the last poll before it.
func (s *Scene[T]) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Poll implements subsystem.Provider
func (s *Scene[T]) Poll(ctx context.Context, alloc changes.Allocator, opts ...changes.Option[T]) (changes.Changes[T], error) {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return changes.Changes[T]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return changes.Changes[T]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return changes.Changes[T]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, s.failure)
	}
	return s.differ.Diff(s.records, alloc, opts...)
}
