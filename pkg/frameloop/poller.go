// Package frameloop drives tracking subsystems: once per frame it polls
// every bound subsystem, hands each changeset to its handler and releases
// it before the next one.
package frameloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/internal/metrics"
	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// ErrLedgerViolation marks a changeset that contradicts the previous ones
var ErrLedgerViolation = errors.New("changeset contradicts tracked state")

// Source is the subsystem side of a binding. *subsystem.Subsystem[T]
// implements it.
type Source[T trackable.Trackable] interface {
	subsystem.TrackingSubsystem[T]
	Descriptor() subsystem.Descriptor
	Start(ctx context.Context) error
	Stop() error
	Stats() subsystem.Stats
}

// Handler consumes one changeset. The changeset is released when the
// handler returns; it must not keep the slices.
type Handler[T trackable.Trackable] func(desc subsystem.Descriptor, ch *changes.Changes[T]) error

// Poller is a bound subsystem with its type erased, so one loop can drive
// subsystems of different record types.
type Poller interface {
	Descriptor() subsystem.Descriptor
	Running() bool
	Start(ctx context.Context) error
	Stop() error
	Stats() subsystem.Stats

	// Live returns the records the changesets so far add up to, as []T
	Live() any
	// LiveCount returns len(Live())
	LiveCount() int

	poll(ctx context.Context, strict bool) error
}

// BindOptions tunes a binding
type BindOptions struct {
	// ArenaSize is the per-frame capacity when the allocator is
	// changes.CallerBuffer. Zero means 256.
	ArenaSize int
}

const defaultArenaSize = 256

type binding[T trackable.Trackable] struct {
	src     Source[T]
	alloc   changes.Allocator
	handler Handler[T]
	arena   *changes.Arena[T]
	opts    []changes.Option[T]
	ledger  *changes.Ledger[T]
	log     *slog.Logger
}

// Bind pairs a subsystem with the allocator it is polled with and the
// handler its changesets go to. A nil handler only tracks live records.
func Bind[T trackable.Trackable](src Source[T], alloc changes.Allocator, handler Handler[T], opts BindOptions) Poller {
	b := &binding[T]{
		src:     src,
		alloc:   alloc,
		handler: handler,
		ledger:  changes.NewLedger[T](),
		log:     log.With("component", "frameloop", "subsystem", src.Descriptor().ID),
	}
	if alloc == changes.CallerBuffer {
		size := opts.ArenaSize
		if size <= 0 {
			size = defaultArenaSize
		}
		b.arena = changes.NewArena[T](size)
		b.opts = []changes.Option[T]{changes.WithArena(b.arena)}
	}
	return b
}

func (b *binding[T]) Descriptor() subsystem.Descriptor { return b.src.Descriptor() }
func (b *binding[T]) Running() bool { return b.src.Running() }
func (b *binding[T]) Start(ctx context.Context) error { return b.src.Start(ctx) }
func (b *binding[T]) Stop() error { return b.src.Stop() }
func (b *binding[T]) Stats() subsystem.Stats { return b.src.Stats() }
func (b *binding[T]) Live() any { return b.ledger.Live() }
func (b *binding[T]) LiveCount() int { return b.ledger.Len() }

func (b *binding[T]) poll(ctx context.Context, strict bool) error {
	if b.arena != nil {
		b.arena.Reset()
	}

	ch, err := b.src.GetChanges(ctx, b.alloc, b.opts...)
	if err != nil {
		if errors.Is(err, subsystem.ErrNotRunning) {
			return nil
		}
		return err
	}
	defer ch.Release()

	if err := b.ledger.Apply(&ch); err != nil {
		if strict {
			return fmt.Errorf("%s: %w: %w", b.Descriptor().ID, ErrLedgerViolation, err)
		}
		b.log.Warn("changeset rejected by ledger", "error", err)
	}
	metrics.SetLive(b.Descriptor().ID, b.ledger.Len())

	if b.handler == nil {
		return nil
	}
	return b.handler(b.Descriptor(), &ch)
}
