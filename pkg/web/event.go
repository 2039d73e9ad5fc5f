package web

import (
	"time"

	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/frameloop"
	"github.com/teslashibe/go-trackables/pkg/hub"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Event is the /ws/changes wire message: one non-empty changeset
type Event[T any] struct {
	Subsystem string    `json:"subsystem"`
	Seq       uint64    `json:"seq"` // Per subsystem, starts at 1
	Time      time.Time `json:"time"`
	Added     []T       `json:"added"`
	Updated   []T       `json:"updated"`
	Removed   []T       `json:"removed"`
}

// EventHandler broadcasts every non-empty changeset on h. The event is
// encoded before the handler returns, so it never outlives the changeset.
func EventHandler[T trackable.Trackable](h *hub.Hub) frameloop.Handler[T] {
	var seq uint64
	return func(desc subsystem.Descriptor, ch *changes.Changes[T]) error {
		if ch.IsEmpty() {
			return nil
		}
		seq++
		return h.BroadcastJSON(Event[T]{
			Subsystem: desc.ID,
			Seq:       seq,
			Time:      time.Now().UTC(),
			Added:     nonNil(ch.Added()),
			Updated:   nonNil(ch.Updated()),
			Removed:   nonNil(ch.Removed()),
		})
	}
}

// nonNil keeps empty sequences as [] rather than null on the wire
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
