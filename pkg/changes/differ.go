package changes

import (
	"fmt"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// EqualFunc reports whether two records of the same entity are
// indistinguishable for reporting purposes
type EqualFunc[T any] func(prev, next T) bool

// Comparable is an EqualFunc for records that support ==
func Comparable[T comparable](prev, next T) bool {
	return prev == next
}

// Differ is the watermark a backend keeps between polls. Given the full
// set of records the backend sees now, it reports what was added, updated
// and removed since the last successful Diff.
//
// Scratch buffers are reused between calls, so a steady scene causes no
// per-poll allocation beyond the changeset itself. Not safe for concurrent
// use.
type Differ[T trackable.Trackable] struct {
	equal EqualFunc[T]

	prev     map[trackable.ID]int
	prevRecs []T

	next     map[trackable.ID]int
	nextRecs []T

	added, updated, removed []T

	watermark uint64
}

// NewDiffer creates a differ; equal decides whether a record present in
// both polls is reported as updated. It must not be nil.
func NewDiffer[T trackable.Trackable](equal func(prev, next T) bool) *Differ[T] {
	if equal == nil {
		panic("changes: NewDiffer requires an equal func")
	}
	return &Differ[T]{
		equal: equal,
		prev:  make(map[trackable.ID]int),
		next:  make(map[trackable.ID]int),
	}
}

// Diff compares snapshot with the last committed snapshot and materializes
// the delta with alloc. The watermark advances only when Diff succeeds.
//
// Added and updated follow snapshot order; removed follows the order of the
// previous snapshot and carries each record's last known state.
func (d *Differ[T]) Diff(snapshot []T, alloc Allocator, opts ...Option[T]) (Changes[T], error) {
	clear(d.next)
	d.nextRecs = d.nextRecs[:0]
	d.added = d.added[:0]
	d.updated = d.updated[:0]
	d.removed = d.removed[:0]

	for _, rec := range snapshot {
		id := rec.TrackableID()
		if !id.IsValid() {
			return Changes[T]{}, fmt.Errorf("%w: snapshot record with invalid id", ErrInvalidChangeset)
		}
		if _, dup := d.next[id]; dup {
			return Changes[T]{}, fmt.Errorf("%w: %v appears twice in snapshot", ErrInvalidChangeset, id)
		}
		d.next[id] = len(d.nextRecs)
		d.nextRecs = append(d.nextRecs, rec)

		i, known := d.prev[id]
		switch {
		case !known:
			d.added = append(d.added, rec)
		case !d.equal(d.prevRecs[i], rec):
			d.updated = append(d.updated, rec)
		}
	}
	for _, rec := range d.prevRecs {
		if _, still := d.next[rec.TrackableID()]; !still {
			d.removed = append(d.removed, rec)
		}
	}

	ch, err := New(d.added, d.updated, d.removed, alloc, opts...)
	if err != nil {
		return Changes[T]{}, err
	}

	d.prev, d.next = d.next, d.prev
	d.prevRecs, d.nextRecs = d.nextRecs, d.prevRecs
	d.watermark++

	clear(d.added)
	clear(d.updated)
	clear(d.removed)
	return ch, nil
}

// Reset forgets the committed snapshot; the next Diff reports every record
// as added.
func (d *Differ[T]) Reset() {
	clear(d.prev)
	clear(d.prevRecs)
	d.prevRecs = d.prevRecs[:0]
}

// Watermark returns the number of successful Diff calls
func (d *Differ[T]) Watermark() uint64 {
	return d.watermark
}

// Len returns the number of records in the committed snapshot
func (d *Differ[T]) Len() int {
	return len(d.prevRecs)
}
