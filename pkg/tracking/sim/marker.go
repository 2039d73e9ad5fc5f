package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-trackables/pkg/trackable"
)

// Marker is a simulated fiducial marker
type Marker struct {
	ID    trackable.ID            `json:"id"`
	Label string                  `json:"label"`
	Pose  trackable.Pose          `json:"pose"`
	State trackable.TrackingState `json:"state"`
}

// TrackableID implements trackable.Trackable
func (m Marker) TrackableID() trackable.ID { return m.ID }

// markerEpsilon is the pose change below which a marker is considered still
const markerEpsilon = 1e-3

// MarkerEqual treats sub-millimetre pose jitter as no change
func MarkerEqual(prev, next Marker) bool {
	if prev.State != next.State || prev.Label != next.Label {
		return false
	}
	return math.Abs(prev.Pose.X-next.Pose.X) < markerEpsilon &&
		math.Abs(prev.Pose.Y-next.Pose.Y) < markerEpsilon &&
		math.Abs(prev.Pose.Z-next.Pose.Z) < markerEpsilon &&
		math.Abs(prev.Pose.Yaw-next.Pose.Yaw) < markerEpsilon
}

// WanderConfig tunes Wander
type WanderConfig struct {
	Interval   time.Duration // How often the scene changes
	MaxMarkers int           // Upper bound on live markers
	SpawnProb  float64       // Chance per step that a marker appears
	LoseProb   float64       // Chance per step that a marker disappears
	MoveProb   float64       // Chance per step that each marker moves
	Step       float64       // Max move per step in metres
}

// DefaultWanderConfig returns a gently changing scene
func DefaultWanderConfig() WanderConfig {
	return WanderConfig{
		Interval:   200 * time.Millisecond,
		MaxMarkers: 6,
		SpawnProb:  0.2,
		LoseProb:   0.05,
		MoveProb:   0.3,
		Step:       0.05,
	}
}

// Wander mutates scene at random until ctx is done: markers appear,
// drift and disappear. Used by the demo backend of trackd.
func Wander(ctx context.Context, scene *Scene[Marker], cfg WanderConfig, rng *rand.Rand) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next = WanderStep(scene, cfg, rng, next)
		}
	}
}

// WanderStep applies one random change to scene and returns the next label
// counter.
func WanderStep(scene *Scene[Marker], cfg WanderConfig, rng *rand.Rand, label int) int {
	markers := scene.Records()

	for _, m := range markers {
		if rng.Float64() < cfg.MoveProb {
			m.Pose.X += (rng.Float64()*2 - 1) * cfg.Step
			m.Pose.Y += (rng.Float64()*2 - 1) * cfg.Step
			m.Pose.Yaw += (rng.Float64()*2 - 1) * cfg.Step
			scene.Put(m)
		}
	}

	if len(markers) > 0 && rng.Float64() < cfg.LoseProb {
		scene.Remove(markers[rng.IntN(len(markers))].ID)
	}

	if len(markers) < cfg.MaxMarkers && rng.Float64() < cfg.SpawnProb {
		label++
		scene.Put(Marker{
			ID:    trackable.NewID(),
			Label: markerLabel(label),
			Pose: trackable.Pose{
				X: rng.Float64()*2 - 1,
				Y: rng.Float64()*2 - 1,
				Z: 1 + rng.Float64(),
			},
			State: trackable.Tracking,
		})
	}
	return label
}

func markerLabel(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	s := ""
	for n > 0 {
		n--
		s = string(letters[n%26]) + s
		n /= 26
	}
	return s
}
