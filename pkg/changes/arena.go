package changes

import "fmt"

// Arena is a fixed-capacity, caller-owned record buffer reused across polls.
// It never grows: a changeset that does not fit fails with
// ErrAllocationFailed. Not safe for concurrent use.
type Arena[T any] struct {
	buf  []T
	used int
	gen  uint64
}

// NewArena allocates an arena able to hold capacity records in total
// across the three sequences of the changesets carved from it.
func NewArena[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena[T]{buf: make([]T, capacity)}
}

// Reset reclaims every record handed out since the last Reset.
// Changesets carved before the reset panic with ErrUseAfterRelease on access.
func (a *Arena[T]) Reset() {
	clear(a.buf[:a.used])
	a.used = 0
	a.gen++
}

// Cap returns the total record capacity
func (a *Arena[T]) Cap() int {
	return len(a.buf)
}

// Used returns how many records are currently handed out
func (a *Arena[T]) Used() int {
	return a.used
}

// take copies src into the next free region and returns it with its
// capacity clipped so appends by the reader cannot spill into a neighbour.
func (a *Arena[T]) take(src []T) ([]T, error) {
	n := len(src)
	if n == 0 {
		return nil, nil
	}
	if a.used+n > len(a.buf) {
		return nil, fmt.Errorf("%w: arena needs %d records, %d of %d free",
			ErrAllocationFailed, n, len(a.buf)-a.used, len(a.buf))
	}
	dst := a.buf[a.used : a.used+n : a.used+n]
	copy(dst, src)
	a.used += n
	return dst, nil
}
