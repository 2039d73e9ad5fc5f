package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
)

// VideoSource interface for capturing frames
type VideoSource interface {
	CaptureJPEG() ([]byte, error)
}

// Backend tracks detections from a video source. It implements
// subsystem.Provider[Entity] and io.Closer.
//
// In synchronous mode every Poll captures and detects one frame. In async
// mode Start launches a capture loop on DetectionInterval and Poll diffs
// the latest tracks.
type Backend struct {
	config     Config
	video      VideoSource
	detector   detection.Detector
	perception *Perception
	log        *slog.Logger
	now        func() time.Time

	mu       sync.Mutex // guards everything below
	world    *Associator
	differ   *changes.Differ[Entity]
	snapshot []Entity
	failures int
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a tracking backend over video and detector
func New(config Config, video VideoSource, detector detection.Detector) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if video == nil || detector == nil {
		return nil, errors.New("tracking: video source and detector are required")
	}
	perception := NewPerception(config)
	return &Backend{
		config:     config,
		video:      video,
		detector:   detector,
		perception: perception,
		log:        log.Component("tracking"),
		now:        time.Now,
		world:      NewAssociator(config, perception),
		differ:     changes.NewDiffer(Equal(config)),
	}, nil
}

// Start implements subsystem.Provider. It is idempotent.
func (b *Backend) Start(ctx context.Context) error {
	if !b.config.Async {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)

	b.log.Info("capture loop started", "interval", b.config.DetectionInterval)
	return nil
}

// Stop implements subsystem.Provider. Tracks and the watermark are kept.
func (b *Backend) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		b.log.Info("capture loop stopped")
	}
	return nil
}

// Close stops capture and releases the detector
func (b *Backend) Close() error {
	b.Stop()
	return b.detector.Close()
}

func (b *Backend) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.config.DetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.step()
		}
	}
}

// step captures and detects one frame and folds it into the tracks. A
// failed frame leaves the tracks as they were.
func (b *Backend) step() error {
	frame, err := b.video.CaptureJPEG()
	if err != nil {
		return b.fail(fmt.Errorf("capture: %w", err))
	}
	dets, err := b.detector.Detect(frame)
	if err != nil {
		return b.fail(fmt.Errorf("detect: %w", err))
	}
	dets = detection.Filter(dets, b.config.MinConfidence)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.world.Update(dets, b.now())
	if b.failures >= b.config.MaxFailures {
		b.log.Info("backend recovered", "after_failures", b.failures)
	}
	b.failures = 0
	b.lastErr = nil
	return nil
}

// fail records a failed frame. After MaxFailures in a row the tracks are
// stale: they are forgotten and reported removed once frames resume.
func (b *Backend) fail(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastErr = err
	if b.failures == b.config.MaxFailures {
		b.log.Warn("backend unavailable, forgetting tracks", "failures", b.failures, "tracks", b.world.Len(), "error", err)
		b.world.Clear()
	}
	return err
}

// Poll implements subsystem.Provider. A failed frame, or in async mode a
// failed latest background frame, is reported as ErrBackendUnavailable
// and leaves the watermark where it was.
func (b *Backend) Poll(ctx context.Context, alloc changes.Allocator, opts ...changes.Option[Entity]) (changes.Changes[Entity], error) {
	if err := ctx.Err(); err != nil {
		return changes.Changes[Entity]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, err)
	}
	if !b.config.Async {
		if err := b.step(); err != nil {
			return changes.Changes[Entity]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastErr != nil {
		return changes.Changes[Entity]{}, fmt.Errorf("%w: %w", subsystem.ErrBackendUnavailable, b.lastErr)
	}
	b.snapshot = b.world.Snapshot(b.snapshot[:0])
	return b.differ.Diff(b.snapshot, alloc, opts...)
}

// Tracks returns a copy of the live tracks
func (b *Backend) Tracks() []Entity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.world.Snapshot(nil)
}
