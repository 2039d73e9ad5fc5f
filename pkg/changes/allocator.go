// Package changes provides TrackableChanges, the added/updated/removed
// delta a tracking backend reports once per poll, together with the
// allocation strategies that materialize its buffers and the helpers
// backends use to compute it.
package changes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAllocationFailed means the requested strategy could not hold the buffers
	ErrAllocationFailed = errors.New("changeset allocation failed")

	// ErrDoubleRelease is returned by a second Release under Temp or Persistent
	ErrDoubleRelease = errors.New("changeset released twice")

	// ErrUseAfterRelease is the panic value for reading a released changeset
	ErrUseAfterRelease = errors.New("changeset used after release")

	// ErrInvalidChangeset reports a violated changeset invariant
	ErrInvalidChangeset = errors.New("invalid changeset")
)

// Allocator selects how a changeset's buffers are materialized and released.
type Allocator int

const (
	// Invalid is the zero Allocator and is always rejected
	Invalid Allocator = iota

	// Temp buffers come from a per-type pool and go back to it on Release.
	// Meant for changesets consumed within one processing cycle.
	Temp

	// Persistent buffers are plain heap slices that live until Release
	// drops them.
	Persistent

	// CallerBuffer carves the buffers out of a caller-supplied Arena.
	// Release is a no-op; the arena's Reset ends their lifetime.
	CallerBuffer
)

// String returns the config name of the allocator
func (a Allocator) String() string {
	switch a {
	case Temp:
		return "temp"
	case Persistent:
		return "persistent"
	case CallerBuffer:
		return "caller"
	default:
		return "invalid"
	}
}

// ParseAllocator maps a config name back to an Allocator
func ParseAllocator(s string) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temp", "temporary":
		return Temp, nil
	case "persistent":
		return Persistent, nil
	case "caller", "arena":
		return CallerBuffer, nil
	default:
		return Invalid, fmt.Errorf("unknown allocator %q", s)
	}
}
