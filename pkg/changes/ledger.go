package changes

import (
	"fmt"
	"slices"
	"sync"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Ledger folds successive changesets into the set of live records and
// rejects any changeset that contradicts what came before: added IDs must
// be unknown, updated and removed IDs must be live.
//
// Apply is meant for the single driving loop; the read methods are safe to
// call from other goroutines.
type Ledger[T trackable.Trackable] struct {
	mu      sync.RWMutex
	live    map[trackable.ID]T
	order   []trackable.ID
	applied uint64
}

// NewLedger creates an empty ledger
func NewLedger[T trackable.Trackable]() *Ledger[T] {
	return &Ledger[T]{
		live: make(map[trackable.ID]T),
	}
}

// Apply checks ch against the live set and, if consistent, advances it.
// A rejected changeset leaves the ledger untouched.
func (l *Ledger[T]) Apply(ch *Changes[T]) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range ch.Added() {
		if _, ok := l.live[rec.TrackableID()]; ok {
			return fmt.Errorf("%w: added %v is already live", ErrInvalidChangeset, rec.TrackableID())
		}
	}
	for _, rec := range ch.Updated() {
		if _, ok := l.live[rec.TrackableID()]; !ok {
			return fmt.Errorf("%w: updated %v is not live", ErrInvalidChangeset, rec.TrackableID())
		}
	}
	for _, rec := range ch.Removed() {
		if _, ok := l.live[rec.TrackableID()]; !ok {
			return fmt.Errorf("%w: removed %v is not live", ErrInvalidChangeset, rec.TrackableID())
		}
	}

	for _, rec := range ch.Added() {
		id := rec.TrackableID()
		l.live[id] = rec
		l.order = append(l.order, id)
	}
	for _, rec := range ch.Updated() {
		l.live[rec.TrackableID()] = rec
	}
	if removed := ch.Removed(); len(removed) > 0 {
		for _, rec := range removed {
			delete(l.live, rec.TrackableID())
		}
		l.order = slices.DeleteFunc(l.order, func(id trackable.ID) bool {
			_, ok := l.live[id]
			return !ok
		})
	}
	l.applied++
	return nil
}

// Live returns a copy of the live records in first-seen order
func (l *Ledger[T]) Live() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]T, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.live[id])
	}
	return out
}

// Get returns the live record for id
func (l *Ledger[T]) Get(id trackable.ID) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.live[id]
	return rec, ok
}

// Len returns the number of live records
func (l *Ledger[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Applied returns how many changesets were accepted
func (l *Ledger[T]) Applied() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.applied
}

// Reset forgets every live record, e.g. after the backend restarted
func (l *Ledger[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.live)
	l.order = l.order[:0]
}
