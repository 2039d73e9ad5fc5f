package changes

import (
	"fmt"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Validate checks the invariants that hold within a single changeset:
// every ID is valid and unique within its sequence, and no ID appears in
// more than one of added, updated and removed.
func (c *Changes[T]) Validate() error {
	c.check()
	if len(c.added)+len(c.updated)+len(c.removed) == 0 {
		return nil
	}

	kinds := make(map[trackable.ID]Kind, len(c.added)+len(c.updated)+len(c.removed))
	seqs := [...]struct {
		kind Kind
		recs []T
	}{
		{KindAdded, c.added},
		{KindUpdated, c.updated},
		{KindRemoved, c.removed},
	}
	for _, seq := range seqs {
		for _, rec := range seq.recs {
			id := rec.TrackableID()
			if !id.IsValid() {
				return fmt.Errorf("%w: %s record with invalid id", ErrInvalidChangeset, seq.kind)
			}
			if prev, ok := kinds[id]; ok {
				if prev == seq.kind {
					return fmt.Errorf("%w: %v appears twice in %s", ErrInvalidChangeset, id, seq.kind)
				}
				return fmt.Errorf("%w: %v appears in both %s and %s", ErrInvalidChangeset, id, prev, seq.kind)
			}
			kinds[id] = seq.kind
		}
	}
	return nil
}

// Kind names one of the three sequences of a changeset
type Kind int

const (
	KindAdded Kind = iota
	KindUpdated
	KindRemoved
)

// String returns the sequence name
func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindUpdated:
		return "updated"
	case KindRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
