package tracking

import (
	"math"
	"testing"

	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
)

func TestPerception_FrameToWorld(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPerception(cfg)

	tests := []struct {
		name          string
		framePosition float64
		yaw           float64
		expected      float64
	}{
		{"center of frame, camera forward", 50, 0, 0},
		{"left of frame, camera forward", 0, 0, cfg.CameraFOV / 2},
		{"right of frame, camera forward", 100, 0, -cfg.CameraFOV / 2},
		{"center of frame, camera turned left", 50, 0.5, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Yaw = tt.yaw
			result := p.FrameToWorld(tt.framePosition)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestPerception_RoundTrip(t *testing.T) {
	p := NewPerception(DefaultConfig())
	p.Yaw = 0.3

	for _, pos := range []float64{0, 12.5, 50, 77, 100} {
		back := p.WorldToFrame(p.FrameToWorld(pos))
		if math.Abs(back-pos) > 1e-9 {
			t.Errorf("round trip %v: got %v", pos, back)
		}
	}
}

func TestPerception_IsInFrame(t *testing.T) {
	p := NewPerception(DefaultConfig())

	if !p.IsInFrame(0) {
		t.Error("straight ahead should be in frame")
	}
	if !p.IsInFrame(Radians(40)) {
		t.Error("40° should be inside a 90° FOV")
	}
	if p.IsInFrame(Radians(50)) {
		t.Error("50° should be outside a 90° FOV")
	}
}

func TestFramePosition(t *testing.T) {
	tests := []struct {
		det  detection.Detection
		want float64
	}{
		{detection.Detection{X: 0.4, W: 0.2}, 50},
		{detection.Detection{X: 0, W: 0.2}, 10},
		{detection.Detection{X: 0.95, W: 0.2}, 100}, // clamped
	}
	for _, tt := range tests {
		if got := FramePosition(tt.det); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FramePosition(%+v): got %v, want %v", tt.det, got, tt.want)
		}
	}
}

func TestPerception_Distance(t *testing.T) {
	p := NewPerception(DefaultConfig())

	if got := p.Distance(detection.Detection{H: 0.25}); math.Abs(got-1) > 1e-9 {
		t.Errorf("Distance: got %v, want 1", got)
	}
	if got := p.Distance(detection.Detection{H: 0.125}); math.Abs(got-2) > 1e-9 {
		t.Errorf("Distance: got %v, want 2", got)
	}
	if got := p.Distance(detection.Detection{}); got != 0 {
		t.Errorf("Distance of empty box: got %v, want 0", got)
	}
}

func TestDegreesRadians(t *testing.T) {
	if got := Degrees(math.Pi); math.Abs(got-180) > 1e-9 {
		t.Errorf("Degrees(π): got %v, want 180", got)
	}
	if got := Radians(90); math.Abs(got-math.Pi/2) > 1e-9 {
		t.Errorf("Radians(90): got %v, want π/2", got)
	}
}
