package changes

import (
	"fmt"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Changes is the delta reported by one poll: records added, updated and
// removed since the previous poll, each in backend order.
//
// The changeset owns its three buffers until Release. Consumers release it
// exactly once, normally with defer right after a successful poll:
//
//	ch, err := sub.GetChanges(ctx, changes.Temp)
//	if err != nil {
//		return err
//	}
//	defer ch.Release()
//
// Do not copy a Changes value after it has been handed out; copies share
// buffers but not the release flag.
type Changes[T trackable.Trackable] struct {
	added   []T
	updated []T
	removed []T

	alloc Allocator
	slabs [3]*[]T

	arena    *Arena[T]
	arenaGen uint64

	released bool
}

// Option tunes New. Options are plain values; applying them never
// allocates.
type Option[T any] struct {
	arena *Arena[T]
}

// WithArena supplies the arena CallerBuffer changesets are carved from
func WithArena[T any](a *Arena[T]) Option[T] {
	return Option[T]{arena: a}
}

// ArenaOf returns the arena carried by opts, if any
func ArenaOf[T any](opts []Option[T]) *Arena[T] {
	for i := len(opts) - 1; i >= 0; i-- {
		if opts[i].arena != nil {
			return opts[i].arena
		}
	}
	return nil
}

// Empty returns a changeset with three zero-length buffers.
// It never allocates.
func Empty[T trackable.Trackable](alloc Allocator) Changes[T] {
	return Changes[T]{alloc: alloc}
}

// New copies added, updated and removed into three independent buffers
// materialized with alloc. The inputs are not retained. On failure no
// changeset is returned and nothing stays allocated.
func New[T trackable.Trackable](added, updated, removed []T, alloc Allocator, opts ...Option[T]) (Changes[T], error) {
	arena := ArenaOf(opts)

	switch alloc {
	case Temp, Persistent:
	case CallerBuffer:
		if arena == nil {
			return Changes[T]{}, fmt.Errorf("%w: caller allocator without arena", ErrAllocationFailed)
		}
	default:
		return Changes[T]{}, fmt.Errorf("%w: unknown allocator %d", ErrAllocationFailed, int(alloc))
	}

	if len(added) == 0 && len(updated) == 0 && len(removed) == 0 {
		ch := Changes[T]{alloc: alloc}
		if alloc == CallerBuffer {
			ch.arena = arena
			ch.arenaGen = arena.gen
		}
		return ch, nil
	}

	ch := Changes[T]{alloc: alloc}
	switch alloc {
	case Temp:
		srcs := [3][]T{added, updated, removed}
		for i, src := range srcs {
			if len(src) == 0 {
				continue
			}
			ch.slabs[i] = getSlab(src)
		}
		ch.added = slabOrNil(ch.slabs[0])
		ch.updated = slabOrNil(ch.slabs[1])
		ch.removed = slabOrNil(ch.slabs[2])

	case Persistent:
		ch.added = cloneOrNil(added)
		ch.updated = cloneOrNil(updated)
		ch.removed = cloneOrNil(removed)

	case CallerBuffer:
		a := arena
		if a.used+len(added)+len(updated)+len(removed) > len(a.buf) {
			return Changes[T]{}, fmt.Errorf("%w: arena needs %d records, %d of %d free",
				ErrAllocationFailed, len(added)+len(updated)+len(removed), len(a.buf)-a.used, len(a.buf))
		}
		// Capacity was checked up front so the takes below cannot fail halfway.
		ch.added, _ = a.take(added)
		ch.updated, _ = a.take(updated)
		ch.removed, _ = a.take(removed)
		ch.arena = a
		ch.arenaGen = a.gen
	}
	return ch, nil
}

func slabOrNil[T any](s *[]T) []T {
	if s == nil {
		return nil
	}
	return *s
}

func cloneOrNil[T any](src []T) []T {
	if len(src) == 0 {
		return nil
	}
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// Release ends the changeset's ownership of its buffers.
// Temp and Persistent changesets return ErrDoubleRelease on a second call.
// CallerBuffer changesets always return nil; their arena owns the memory.
func (c *Changes[T]) Release() error {
	if c.alloc == CallerBuffer {
		return nil
	}
	if c.released {
		return ErrDoubleRelease
	}
	c.released = true
	if c.alloc == Temp {
		for i, s := range c.slabs {
			putSlab(s)
			c.slabs[i] = nil
		}
	}
	c.added, c.updated, c.removed = nil, nil, nil
	return nil
}

// Released reports whether Release has run
func (c *Changes[T]) Released() bool {
	return c.released
}

func (c *Changes[T]) check() {
	if c.released {
		panic(ErrUseAfterRelease)
	}
	if c.arena != nil && c.arena.gen != c.arenaGen {
		panic(fmt.Errorf("%w: arena was reset", ErrUseAfterRelease))
	}
}

// Added returns the records first seen in this poll
func (c *Changes[T]) Added() []T {
	c.check()
	return c.added
}

// Updated returns known records whose state changed in this poll
func (c *Changes[T]) Updated() []T {
	c.check()
	return c.updated
}

// Removed returns the last known state of records lost in this poll
func (c *Changes[T]) Removed() []T {
	c.check()
	return c.removed
}

// Allocator returns the strategy the buffers were materialized with
func (c *Changes[T]) Allocator() Allocator {
	return c.alloc
}

// Len returns the total number of records across the three sequences
func (c *Changes[T]) Len() int {
	c.check()
	return len(c.added) + len(c.updated) + len(c.removed)
}

// IsEmpty reports whether nothing changed
func (c *Changes[T]) IsEmpty() bool {
	return c.Len() == 0
}

// String summarizes the changeset for logs
func (c *Changes[T]) String() string {
	if c.released {
		return "changes{released}"
	}
	return fmt.Sprintf("changes{added=%d updated=%d removed=%d alloc=%s}",
		len(c.added), len(c.updated), len(c.removed), c.alloc)
}
