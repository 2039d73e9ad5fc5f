package changes

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// rec is a minimal trackable record for tests
type rec struct {
	id  trackable.ID
	val int
}

func (r rec) TrackableID() trackable.ID { return r.id }

func tid(n uint64) trackable.ID {
	return trackable.ID{SubID1: n, SubID2: n}
}

func ids(recs []rec) []uint64 {
	out := make([]uint64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.id.SubID1)
	}
	return out
}

func equalIDs(got []rec, want ...uint64) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNew_Strategies(t *testing.T) {
	tests := []struct {
		name  string
		alloc Allocator
		opts  []Option[rec]
	}{
		{name: "temp", alloc: Temp},
		{name: "persistent", alloc: Persistent},
		{name: "caller buffer", alloc: CallerBuffer, opts: []Option[rec]{WithArena(NewArena[rec](8))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added := []rec{{tid(1), 1}, {tid(2), 2}}
			updated := []rec{{tid(3), 3}}
			removed := []rec{{tid(4), 4}}

			ch, err := New(added, updated, removed, tt.alloc, tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer ch.Release()

			// Inputs are copied, not retained
			added[0].val = 100
			updated[0].val = 100

			if !equalIDs(ch.Added(), 1, 2) {
				t.Errorf("Added: got %v, want [1 2]", ids(ch.Added()))
			}
			if !equalIDs(ch.Updated(), 3) {
				t.Errorf("Updated: got %v, want [3]", ids(ch.Updated()))
			}
			if !equalIDs(ch.Removed(), 4) {
				t.Errorf("Removed: got %v, want [4]", ids(ch.Removed()))
			}
			if ch.Added()[0].val != 1 || ch.Updated()[0].val != 3 {
				t.Error("changeset buffers alias the input slices")
			}
			if ch.Allocator() != tt.alloc {
				t.Errorf("Allocator: got %v, want %v", ch.Allocator(), tt.alloc)
			}
			if ch.Len() != 4 {
				t.Errorf("Len: got %d, want 4", ch.Len())
			}
		})
	}
}

func TestNew_BuffersAreIndependent(t *testing.T) {
	arena := NewArena[rec](8)
	ch, err := New([]rec{{tid(1), 1}}, []rec{{tid(2), 2}}, nil, CallerBuffer, WithArena(arena))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Appending to one sequence must not clobber its neighbour in the arena
	grown := append(ch.Added(), rec{tid(9), 9})
	_ = grown
	if ch.Updated()[0].id != tid(2) {
		t.Errorf("Updated clobbered by append to Added: got %v", ch.Updated()[0].id)
	}
}

func TestNew_Errors(t *testing.T) {
	one := []rec{{tid(1), 1}}

	tests := []struct {
		name  string
		alloc Allocator
		opts  []Option[rec]
	}{
		{name: "invalid allocator", alloc: Invalid},
		{name: "out of range allocator", alloc: Allocator(99)},
		{name: "caller buffer without arena", alloc: CallerBuffer},
		{name: "arena too small", alloc: CallerBuffer, opts: []Option[rec]{WithArena(NewArena[rec](0))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(one, nil, nil, tt.alloc, tt.opts...)
			if !errors.Is(err, ErrAllocationFailed) {
				t.Fatalf("got err %v, want ErrAllocationFailed", err)
			}
			if ch.Len() != 0 {
				t.Errorf("partial changeset returned with %d records", ch.Len())
			}
		})
	}
}

func TestNew_ArenaFailureLeavesArenaUntouched(t *testing.T) {
	arena := NewArena[rec](2)
	_, err := New([]rec{{tid(1), 1}, {tid(2), 2}}, []rec{{tid(3), 3}}, nil, CallerBuffer, WithArena(arena))
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("got err %v, want ErrAllocationFailed", err)
	}
	if arena.Used() != 0 {
		t.Errorf("Used: got %d, want 0", arena.Used())
	}
}

func TestNew_EmptyDoesNotAllocate(t *testing.T) {
	arena := NewArena[rec](4)
	opt := WithArena(arena)

	tests := []struct {
		name string
		fn   func()
	}{
		{"temp", func() {
			ch, _ := New[rec](nil, nil, nil, Temp)
			ch.Release()
		}},
		{"persistent", func() {
			ch, _ := New[rec](nil, nil, nil, Persistent)
			ch.Release()
		}},
		{"caller buffer", func() {
			ch, _ := New[rec](nil, nil, nil, CallerBuffer, opt)
			ch.Release()
		}},
		{"empty helper", func() {
			ch := Empty[rec](Temp)
			ch.Release()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocs := testing.AllocsPerRun(100, tt.fn)
			if allocs != 0 {
				t.Errorf("got %v allocations, want 0", allocs)
			}
		})
	}
}

func TestRelease_PerStrategy(t *testing.T) {
	tests := []struct {
		name          string
		alloc         Allocator
		opts          []Option[rec]
		wantSecondErr error
	}{
		{name: "temp rejects second release", alloc: Temp, wantSecondErr: ErrDoubleRelease},
		{name: "persistent rejects second release", alloc: Persistent, wantSecondErr: ErrDoubleRelease},
		{name: "caller buffer release is a no-op", alloc: CallerBuffer, opts: []Option[rec]{WithArena(NewArena[rec](4))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, empty := range []bool{false, true} {
				var added []rec
				if !empty {
					added = []rec{{tid(1), 1}}
				}
				ch, err := New(added, nil, nil, tt.alloc, tt.opts...)
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				if err := ch.Release(); err != nil {
					t.Errorf("first Release (empty=%v): %v", empty, err)
				}
				err = ch.Release()
				if !errors.Is(err, tt.wantSecondErr) || (tt.wantSecondErr == nil && err != nil) {
					t.Errorf("second Release (empty=%v): got %v, want %v", empty, err, tt.wantSecondErr)
				}
			}
		})
	}
}

func mustPanicWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic, got none")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Fatalf("got panic %v, want %v", r, target)
		}
	}()
	fn()
}

func TestUseAfterRelease(t *testing.T) {
	ch, err := New([]rec{{tid(1), 1}}, nil, nil, Persistent)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch.Release()

	mustPanicWith(t, ErrUseAfterRelease, func() { ch.Added() })
	mustPanicWith(t, ErrUseAfterRelease, func() { ch.Len() })
}

func TestUseAfterArenaReset(t *testing.T) {
	arena := NewArena[rec](4)
	ch, err := New([]rec{{tid(1), 1}}, nil, nil, CallerBuffer, WithArena(arena))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if arena.Used() != 1 {
		t.Errorf("Used: got %d, want 1", arena.Used())
	}

	arena.Reset()
	if arena.Used() != 0 {
		t.Errorf("Used after Reset: got %d, want 0", arena.Used())
	}
	mustPanicWith(t, ErrUseAfterRelease, func() { ch.Removed() })
}

func TestTemp_SlabsReturnedClean(t *testing.T) {
	ch, err := New([]rec{{tid(1), 7}}, nil, nil, Temp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	slab := ch.slabs[0]
	ch.Release()

	if len(*slab) != 0 {
		t.Errorf("slab length after release: got %d, want 0", len(*slab))
	}
	if full := (*slab)[:1]; full[0] != (rec{}) {
		t.Errorf("slab not zeroed: got %+v", full[0])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		added   []rec
		updated []rec
		removed []rec
		wantErr bool
	}{
		{name: "empty"},
		{name: "disjoint", added: []rec{{tid(1), 0}}, updated: []rec{{tid(2), 0}}, removed: []rec{{tid(3), 0}}},
		{name: "added and removed overlap", added: []rec{{tid(1), 0}}, removed: []rec{{tid(1), 0}}, wantErr: true},
		{name: "updated and removed overlap", updated: []rec{{tid(1), 0}}, removed: []rec{{tid(1), 0}}, wantErr: true},
		{name: "added and updated overlap", added: []rec{{tid(1), 0}}, updated: []rec{{tid(1), 0}}, wantErr: true},
		{name: "duplicate in added", added: []rec{{tid(1), 0}, {tid(1), 1}}, wantErr: true},
		{name: "invalid id", added: []rec{{trackable.InvalidID, 0}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(tt.added, tt.updated, tt.removed, Persistent)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer ch.Release()

			err = ch.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidChangeset) {
				t.Errorf("got %v, want ErrInvalidChangeset", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseAllocator(t *testing.T) {
	for _, a := range []Allocator{Temp, Persistent, CallerBuffer} {
		got, err := ParseAllocator(a.String())
		if err != nil {
			t.Fatalf("ParseAllocator(%q): %v", a.String(), err)
		}
		if got != a {
			t.Errorf("got %v, want %v", got, a)
		}
	}
	if _, err := ParseAllocator("stack"); err == nil {
		t.Error("expected error for unknown allocator")
	}
}
