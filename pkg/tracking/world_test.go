package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-trackables/pkg/trackable"
	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func face(x, y, conf float64) detection.Detection {
	return detection.Detection{X: x, Y: y, W: 0.2, H: 0.2, Confidence: conf, Label: "face"}
}

func newTestAssociator(cfg Config) *Associator {
	return NewAssociator(cfg, NewPerception(cfg))
}

func TestAssociator_NewTrack(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0)

	tracks := a.Snapshot(nil)
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	e := tracks[0]
	if !e.ID.IsValid() {
		t.Error("new track should have a valid ID")
	}
	if e.State != trackable.Tracking {
		t.Errorf("State: got %v, want %v", e.State, trackable.Tracking)
	}
	if math.Abs(e.FramePosition-50) > 1e-9 {
		t.Errorf("FramePosition: got %v, want 50", e.FramePosition)
	}
	if math.Abs(e.WorldAngle) > 1e-9 {
		t.Errorf("WorldAngle: got %v, want 0", e.WorldAngle)
	}
	if e.Label != "face" || !e.LastSeen.Equal(t0) {
		t.Errorf("unexpected entity %+v", e)
	}
}

func TestAssociator_ContinuesOverlappingTrack(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0)
	id := a.Snapshot(nil)[0].ID

	a.Update([]detection.Detection{face(0.45, 0.4, 0.8)}, t0.Add(100*time.Millisecond))

	tracks := a.Snapshot(nil)
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	if tracks[0].ID != id {
		t.Errorf("ID changed: got %v, want %v", tracks[0].ID, id)
	}
	// 0.6*55 + 0.4*50
	if math.Abs(tracks[0].FramePosition-53) > 1e-9 {
		t.Errorf("FramePosition: got %v, want 53", tracks[0].FramePosition)
	}
	if tracks[0].Confidence != 0.8 {
		t.Errorf("Confidence: got %v, want 0.8", tracks[0].Confidence)
	}
}

func TestAssociator_IgnoresJitter(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0)

	// 1% move smooths to 0.6%, under the 2% threshold
	a.Update([]detection.Detection{face(0.41, 0.4, 0.9)}, t0.Add(100*time.Millisecond))

	if got := a.Snapshot(nil)[0].FramePosition; got != 50 {
		t.Errorf("FramePosition: got %v, want 50", got)
	}
}

func TestAssociator_MissAndForget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMisses = 3
	cfg.ConfidenceDecay = 0.5
	a := newTestAssociator(cfg)

	a.Update([]detection.Detection{face(0.1, 0.1, 1.0)}, t0)

	now := t0
	for miss := 1; miss < cfg.MaxMisses; miss++ {
		now = now.Add(200 * time.Millisecond)
		a.Update(nil, now)
		tracks := a.Snapshot(nil)
		if len(tracks) != 1 {
			t.Fatalf("miss %d: got %d tracks, want 1", miss, len(tracks))
		}
		if tracks[0].State != trackable.Limited {
			t.Errorf("miss %d: State got %v, want %v", miss, tracks[0].State, trackable.Limited)
		}
		want := 1.0 - 0.1*float64(miss)
		if math.Abs(tracks[0].Confidence-want) > 1e-9 {
			t.Errorf("miss %d: Confidence got %v, want %v", miss, tracks[0].Confidence, want)
		}
	}

	a.Update(nil, now.Add(200*time.Millisecond))
	if a.Len() != 0 {
		t.Errorf("track should be forgotten after %d misses, have %d", cfg.MaxMisses, a.Len())
	}
}

func TestAssociator_ForgetsBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceDecay = 1
	a := newTestAssociator(cfg)

	a.Update([]detection.Detection{face(0.1, 0.1, 0.6)}, t0)
	a.Update(nil, t0.Add(time.Second))

	if a.Len() != 0 {
		t.Errorf("got %d tracks, want 0", a.Len())
	}
}

func TestAssociator_ReacquireAfterMiss(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0)
	id := a.Snapshot(nil)[0].ID

	a.Update(nil, t0.Add(100*time.Millisecond))
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0.Add(200*time.Millisecond))

	e := a.Snapshot(nil)[0]
	if e.ID != id || e.State != trackable.Tracking {
		t.Errorf("got %v %v, want %v tracking", e.ID, e.State, id)
	}
}

func TestAssociator_LabelMustMatch(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.4, 0.4, 0.9)}, t0)

	person := face(0.4, 0.4, 0.9)
	person.Label = "person"
	a.Update([]detection.Detection{person}, t0.Add(100*time.Millisecond))

	tracks := a.Snapshot(nil)
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].State != trackable.Limited || tracks[1].Label != "person" {
		t.Errorf("unexpected tracks %+v", tracks)
	}
}

func TestAssociator_GreedyBestOverlap(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.1, 0.1, 0.9), face(0.6, 0.1, 0.9)}, t0)
	before := a.Snapshot(nil)

	// Swapped order and small moves: each detection must stay with the
	// track it overlaps most.
	a.Update([]detection.Detection{face(0.62, 0.1, 0.9), face(0.12, 0.1, 0.9)}, t0.Add(100*time.Millisecond))
	after := a.Snapshot(nil)

	if len(after) != 2 {
		t.Fatalf("got %d tracks, want 2", len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Errorf("track %d: ID changed", i)
		}
	}
	if after[0].Box.X != 0.12 || after[1].Box.X != 0.62 {
		t.Errorf("boxes went to the wrong tracks: %+v %+v", after[0].Box, after[1].Box)
	}
}

func TestAssociator_Clear(t *testing.T) {
	a := newTestAssociator(DefaultConfig())
	a.Update([]detection.Detection{face(0.1, 0.1, 0.9)}, t0)
	a.Clear()
	if a.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", a.Len())
	}
}

func TestEqual(t *testing.T) {
	eq := Equal(DefaultConfig())
	base := Entity{Label: "face", State: trackable.Tracking, FramePosition: 50, Confidence: 0.9}

	tests := []struct {
		name   string
		mutate func(*Entity)
		want   bool
	}{
		{"identical", func(e *Entity) {}, true},
		{"sub-threshold move", func(e *Entity) { e.FramePosition = 51 }, true},
		{"move", func(e *Entity) { e.FramePosition = 53 }, false},
		{"state change", func(e *Entity) { e.State = trackable.Limited }, false},
		{"small confidence change", func(e *Entity) { e.Confidence = 0.85 }, true},
		{"confidence drop", func(e *Entity) { e.Confidence = 0.7 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := base
			tc.mutate(&next)
			if got := eq(base, next); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
