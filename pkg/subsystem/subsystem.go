// Package subsystem implements the tracking subsystem state machine: a
// running flag guarded by Start and Stop, and GetChanges, which polls the
// backend Provider for everything that changed since the previous poll.
package subsystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/internal/metrics"
	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/trackable"
)

var (
	// ErrNotRunning is returned by GetChanges on a stopped subsystem
	// under RejectWhenStopped
	ErrNotRunning = errors.New("subsystem not running")

	// ErrBackendUnavailable means the tracking source cannot be reached or
	// has failed. Providers wrap it; it is never turned into an empty changeset.
	ErrBackendUnavailable = errors.New("tracking backend unavailable")

	// ErrDestroyed is returned by every operation after Destroy
	ErrDestroyed = errors.New("subsystem destroyed")

	// ErrConcurrentPoll is returned when GetChanges is entered while another
	// call on the same subsystem is still in flight
	ErrConcurrentPoll = errors.New("concurrent GetChanges on one subsystem")
)

// Provider is what a concrete backend implements. Poll must report every
// change since its previous successful Poll and advance its watermark only
// on success. A Provider that also implements io.Closer is closed by Destroy.
type Provider[T trackable.Trackable] interface {
	Start(ctx context.Context) error
	Stop() error
	Poll(ctx context.Context, alloc changes.Allocator, opts ...changes.Option[T]) (changes.Changes[T], error)
}

// TrackingSubsystem is the consumer-facing contract
type TrackingSubsystem[T trackable.Trackable] interface {
	Running() bool
	GetChanges(ctx context.Context, alloc changes.Allocator, opts ...changes.Option[T]) (changes.Changes[T], error)
}

// Descriptor names a subsystem for logs, metrics and the HTTP API
type Descriptor struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// StoppedPolicy decides what GetChanges does while stopped
type StoppedPolicy int

const (
	// RejectWhenStopped fails with ErrNotRunning
	RejectWhenStopped StoppedPolicy = iota
	// EmptyWhenStopped returns an empty changeset
	EmptyWhenStopped
)

// String returns the config name of the policy
func (p StoppedPolicy) String() string {
	if p == EmptyWhenStopped {
		return "empty"
	}
	return "reject"
}

// ParseStoppedPolicy maps "reject" or "empty" to a policy
func ParseStoppedPolicy(s string) (StoppedPolicy, error) {
	switch s {
	case "", "reject":
		return RejectWhenStopped, nil
	case "empty":
		return EmptyWhenStopped, nil
	default:
		return RejectWhenStopped, fmt.Errorf("unknown stopped policy %q", s)
	}
}

// Config holds subsystem behaviour switches
type Config struct {
	StoppedPolicy StoppedPolicy

	// Validate checks each changeset's invariants before handing it out.
	// A violation is reported as ErrBackendUnavailable.
	Validate bool
}

// DefaultConfig rejects polls while stopped and validates changesets
func DefaultConfig() Config {
	return Config{
		StoppedPolicy: RejectWhenStopped,
		Validate:      true,
	}
}

// State is the lifecycle state of a subsystem
type State int32

const (
	Stopped State = iota
	Running
	Destroyed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a subsystem's polling history
type Stats struct {
	Polls     uint64    `json:"polls"`
	Failures  uint64    `json:"failures"`
	Rejected  uint64    `json:"rejected"`
	Added     uint64    `json:"added"`
	Updated   uint64    `json:"updated"`
	Removed   uint64    `json:"removed"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
}

// Subsystem wraps a Provider with the running flag and the polling gate.
// Start, Stop and Destroy may be called from any goroutine; GetChanges is
// meant for one driving loop and rejects overlapping calls.
type Subsystem[T trackable.Trackable] struct {
	desc     Descriptor
	provider Provider[T]
	config   Config
	logger   *slog.Logger

	lifecycle sync.Mutex
	state     atomic.Int32
	polling   atomic.Bool

	// inflight is read-held for the whole of GetChanges; Destroy takes it
	// exclusively so the provider is never closed under a running Poll
	inflight sync.RWMutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a stopped subsystem around provider
func New[T trackable.Trackable](desc Descriptor, provider Provider[T], config Config) *Subsystem[T] {
	return &Subsystem[T]{
		desc:     desc,
		provider: provider,
		config:   config,
		logger:   log.Component("subsystem").With("subsystem", desc.ID, "kind", desc.Kind),
	}
}

// Descriptor returns the subsystem's name and kind
func (s *Subsystem[T]) Descriptor() Descriptor {
	return s.desc
}

// Config returns the subsystem's behaviour switches
func (s *Subsystem[T]) Config() Config {
	return s.config
}

// State returns the current lifecycle state
func (s *Subsystem[T]) State() State {
	return State(s.state.Load())
}

// Running reports whether the subsystem has been started and not stopped
func (s *Subsystem[T]) Running() bool {
	return s.State() == Running
}

// Start moves Stopped to Running. Starting a running subsystem is a no-op.
// If the provider fails to start, the subsystem stays stopped.
func (s *Subsystem[T]) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case Destroyed:
		return ErrDestroyed
	case Running:
		return nil
	}

	if err := s.provider.Start(ctx); err != nil {
		s.logger.Error("start failed", "error", err)
		return fmt.Errorf("start %s: %w", s.desc.ID, err)
	}
	s.state.Store(int32(Running))
	metrics.SetRunning(s.desc.ID, true)
	s.logger.Info("started")
	return nil
}

// Stop moves Running to Stopped. Stopping a stopped subsystem is a no-op.
// The flag is cleared before the provider stops, so no poll starts against
// a provider that is shutting down.
func (s *Subsystem[T]) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked()
}

func (s *Subsystem[T]) stopLocked() error {
	switch s.State() {
	case Destroyed:
		return ErrDestroyed
	case Stopped:
		return nil
	}

	s.state.Store(int32(Stopped))
	metrics.SetRunning(s.desc.ID, false)
	if err := s.provider.Stop(); err != nil {
		s.logger.Warn("provider stop failed", "error", err)
		return fmt.Errorf("stop %s: %w", s.desc.ID, err)
	}
	s.logger.Info("stopped")
	return nil
}

// Destroy stops the subsystem if needed and closes the provider.
// It waits for an in-flight GetChanges to return first, so callers bound
// a slow Poll through its context. Every later call fails with ErrDestroyed.
func (s *Subsystem[T]) Destroy() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.inflight.Lock()
	defer s.inflight.Unlock()

	if s.State() == Destroyed {
		return ErrDestroyed
	}

	var errs []error
	if err := s.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.desc.ID, err))
		}
	}
	s.state.Store(int32(Destroyed))
	s.logger.Info("destroyed")
	return errors.Join(errs...)
}

// GetChanges returns everything the backend observed since the previous
// successful call (or since Start, for the first call). The caller owns
// the result and must Release it.
//
// While stopped the provider is not polled: depending on the StoppedPolicy
// the call fails with ErrNotRunning or returns an empty changeset. Provider
// failures are returned as is, wrapped with the subsystem ID. The running
// flag is never changed by GetChanges.
//
// With Config.Validate a changeset that breaks its invariants is dropped
// and reported as ErrBackendUnavailable. The provider has already moved
// its watermark past it, so those changes are lost and consumers must
// resync from a full snapshot.
func (s *Subsystem[T]) GetChanges(ctx context.Context, alloc changes.Allocator, opts ...changes.Option[T]) (changes.Changes[T], error) {
	if !s.polling.CompareAndSwap(false, true) {
		return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, ErrConcurrentPoll)
	}
	defer s.polling.Store(false)
	s.inflight.RLock()
	defer s.inflight.RUnlock()

	start := time.Now()

	switch s.State() {
	case Destroyed:
		return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, ErrDestroyed)
	case Stopped:
		return s.stoppedResult(alloc, start, opts)
	}

	ch, err := s.provider.Poll(ctx, alloc, opts...)
	if err != nil {
		s.recordFailure(err, start)
		return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, err)
	}

	if s.config.Validate {
		if verr := ch.Validate(); verr != nil {
			s.logger.Error("invalid changeset dropped, consumers must resync",
				"error", verr, "added", len(ch.Added()), "updated", len(ch.Updated()), "removed", len(ch.Removed()))
			ch.Release()
			err := fmt.Errorf("%w: %w", ErrBackendUnavailable, verr)
			s.recordFailure(err, start)
			return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, err)
		}
	}

	added, updated, removed := len(ch.Added()), len(ch.Updated()), len(ch.Removed())
	s.statsMu.Lock()
	s.stats.Polls++
	s.stats.Added += uint64(added)
	s.stats.Updated += uint64(updated)
	s.stats.Removed += uint64(removed)
	s.stats.LastPoll = start
	s.statsMu.Unlock()

	metrics.RecordPoll(s.desc.ID, metrics.ResultOK, time.Since(start))
	metrics.RecordChanges(s.desc.ID, added, updated, removed)
	if added+updated+removed > 0 {
		s.logger.Debug("changes", "added", added, "updated", updated, "removed", removed)
	}
	return ch, nil
}

func (s *Subsystem[T]) stoppedResult(alloc changes.Allocator, start time.Time, opts []changes.Option[T]) (changes.Changes[T], error) {
	s.statsMu.Lock()
	s.stats.Rejected++
	s.statsMu.Unlock()

	if s.config.StoppedPolicy == EmptyWhenStopped {
		ch, err := changes.New[T](nil, nil, nil, alloc, opts...)
		if err != nil {
			s.recordFailure(err, start)
			return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, err)
		}
		metrics.RecordPoll(s.desc.ID, metrics.ResultEmpty, time.Since(start))
		return ch, nil
	}

	metrics.RecordPoll(s.desc.ID, metrics.ResultRejected, time.Since(start))
	return changes.Changes[T]{}, fmt.Errorf("%s: %w", s.desc.ID, ErrNotRunning)
}

func (s *Subsystem[T]) recordFailure(err error, start time.Time) {
	s.statsMu.Lock()
	s.stats.Failures++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
	metrics.RecordPoll(s.desc.ID, metrics.ResultError, time.Since(start))
	s.logger.Warn("poll failed", "error", err)
}

// Stats returns a snapshot of the polling counters
func (s *Subsystem[T]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
