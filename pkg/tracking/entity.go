// Package tracking turns per-frame detections from a camera into stable,
// identified tracks and serves them as a subsystem.Provider.
package tracking

import (
	"math"
	"time"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Box is a normalized (0-1) bounding box
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Entity is one tracked face or object
type Entity struct {
	ID            trackable.ID            `json:"id"`
	Label         string                  `json:"label"`
	State         trackable.TrackingState `json:"state"`
	Box           Box                     `json:"box"`
	FramePosition float64                 `json:"frame_position"` // 0-100, left to right
	WorldAngle    float64                 `json:"world_angle"`    // radians, positive is left
	Distance      float64                 `json:"distance"`       // metres, estimated from box height
	Confidence    float64                 `json:"confidence"`
	LastSeen      time.Time               `json:"last_seen"`
}

// TrackableID implements trackable.Trackable
func (e Entity) TrackableID() trackable.ID { return e.ID }

// confidenceStep is the confidence change reported as an update
const confidenceStep = 0.1

// Equal returns the update predicate for the differ: a change in state or
// label always counts, position only beyond the jitter threshold.
func Equal(cfg Config) func(prev, next Entity) bool {
	return func(prev, next Entity) bool {
		if prev.State != next.State || prev.Label != next.Label {
			return false
		}
		if math.Abs(prev.FramePosition-next.FramePosition) >= cfg.JitterThreshold {
			return false
		}
		return math.Abs(prev.Confidence-next.Confidence) < confidenceStep
	}
}
