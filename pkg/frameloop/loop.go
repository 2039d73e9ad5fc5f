package frameloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-trackables/internal/log"
)

// Config holds loop configuration
type Config struct {
	Interval time.Duration // Frame period
	Strict   bool          // Stop on the first ledger violation
}

// DefaultConfig returns a 10 Hz lenient loop
func DefaultConfig() Config {
	return Config{Interval: 100 * time.Millisecond}
}

// Loop polls every registered Poller once per frame from a single
// goroutine, so a subsystem is never polled concurrently.
type Loop struct {
	config Config
	log    *slog.Logger

	mu      sync.RWMutex
	pollers []Poller
	frames  uint64
}

// New creates an empty loop
func New(config Config) *Loop {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Loop{
		config: config,
		log:    log.Component("frameloop"),
	}
}

// Add registers p. IDs must be unique.
func (l *Loop) Add(p Poller) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := p.Descriptor().ID
	for _, q := range l.pollers {
		if q.Descriptor().ID == id {
			return fmt.Errorf("frameloop: duplicate subsystem %q", id)
		}
	}
	l.pollers = append(l.pollers, p)
	return nil
}

// Pollers returns the registered pollers in registration order
func (l *Loop) Pollers() []Poller {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Poller(nil), l.pollers...)
}

// Poller looks a poller up by subsystem ID
func (l *Loop) Poller(id string) (Poller, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.pollers {
		if p.Descriptor().ID == id {
			return p, true
		}
	}
	return nil, false
}

// Frames returns the number of completed frames
func (l *Loop) Frames() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frames
}

// Tick runs one frame: every poller is polled in order even when an
// earlier one fails. The failures are returned joined.
func (l *Loop) Tick(ctx context.Context) error {
	var errs []error
	for _, p := range l.Pollers() {
		if err := p.poll(ctx, l.config.Strict); err != nil {
			l.log.Warn("poll failed", "subsystem", p.Descriptor().ID, "error", err)
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	l.frames++
	l.mu.Unlock()
	return errors.Join(errs...)
}

// Run ticks every Interval until ctx is done. In strict mode a ledger
// violation ends the loop with that error.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	l.log.Info("frame loop started", "interval", l.config.Interval, "strict", l.config.Strict, "subsystems", len(l.Pollers()))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("frame loop stopped", "frames", l.Frames())
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil && l.config.Strict && errors.Is(err, ErrLedgerViolation) {
				l.log.Error("stopping on ledger violation", "error", err)
				return err
			}
		}
	}
}
