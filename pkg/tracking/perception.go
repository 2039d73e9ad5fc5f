package tracking

import (
	"math"

	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
)

// Perception converts camera frame positions to world angles
type Perception struct {
	CameraFOV     float64 // Horizontal field of view in radians
	DistanceScale float64 // Box height seen at one metre
	Yaw           float64 // Camera yaw relative to the world frame
}

// NewPerception creates a perception model for a fixed camera
func NewPerception(config Config) *Perception {
	return &Perception{
		CameraFOV:     config.CameraFOV,
		DistanceScale: config.DistanceScale,
	}
}

// FrameToWorld converts a frame position (0-100%) to a world angle.
// Positive frame position is the right of the frame, positive angles
// are to the left.
func (p *Perception) FrameToWorld(framePosition float64) float64 {
	frameOffset := (framePosition - 50) / 100.0
	return p.Yaw - frameOffset*p.CameraFOV
}

// WorldToFrame converts a world angle to expected frame position
// (0-100%) if the target were visible
func (p *Perception) WorldToFrame(worldAngle float64) float64 {
	frameOffset := (p.Yaw - worldAngle) / p.CameraFOV
	return 50 + frameOffset*100
}

// IsInFrame returns true if a world angle would be visible
func (p *Perception) IsInFrame(worldAngle float64) bool {
	return math.Abs(p.Yaw-worldAngle) < p.CameraFOV/2
}

// FramePosition returns the horizontal centre of d as 0-100%
func FramePosition(d detection.Detection) float64 {
	cx, _ := d.Center()
	return clamp(cx*100, 0, 100)
}

// Distance estimates range from box height; 0 when unknown
func (p *Perception) Distance(d detection.Detection) float64 {
	if d.H <= 0 || p.DistanceScale <= 0 {
		return 0
	}
	return p.DistanceScale / d.H
}
