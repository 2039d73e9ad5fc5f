package tracking

import (
	"cmp"
	"slices"
	"time"

	"github.com/teslashibe/go-trackables/pkg/trackable"
	"github.com/teslashibe/go-trackables/pkg/tracking/detection"
)

type track struct {
	ent    Entity
	misses int
}

type pair struct {
	track, det int
	iou        float64
}

// Associator keeps the set of live tracks and matches each frame's
// detections to them. Track order is creation order. Not safe for
// concurrent use.
type Associator struct {
	cfg        Config
	perception *Perception
	newID      func() trackable.ID

	tracks     []*track
	lastUpdate time.Time

	// scratch, reused across updates
	pairs      []pair
	trackTaken []bool
	detTaken   []bool
}

// NewAssociator creates an empty associator
func NewAssociator(cfg Config, perception *Perception) *Associator {
	return &Associator{
		cfg:        cfg,
		perception: perception,
		newID:      trackable.NewID,
	}
}

// Update folds one frame of detections into the tracks. Each detection
// continues at most one track, the best-overlapping first; detections left
// over start new tracks. Tracks without a detection lose confidence, turn
// Limited and are forgotten after MaxMisses frames or below ForgetThreshold.
func (a *Associator) Update(dets []detection.Detection, now time.Time) {
	dt := 0.0
	if !a.lastUpdate.IsZero() {
		dt = now.Sub(a.lastUpdate).Seconds()
	}
	a.lastUpdate = now

	a.pairs = a.pairs[:0]
	for ti, tr := range a.tracks {
		for di, d := range dets {
			if d.Label != tr.ent.Label {
				continue
			}
			iou := d.IoU(detection.Detection{X: tr.ent.Box.X, Y: tr.ent.Box.Y, W: tr.ent.Box.W, H: tr.ent.Box.H})
			if iou >= a.cfg.MatchIoU {
				a.pairs = append(a.pairs, pair{track: ti, det: di, iou: iou})
			}
		}
	}
	slices.SortStableFunc(a.pairs, func(x, y pair) int { return cmp.Compare(y.iou, x.iou) })

	a.trackTaken = resetFlags(a.trackTaken, len(a.tracks))
	a.detTaken = resetFlags(a.detTaken, len(dets))
	for _, p := range a.pairs {
		if a.trackTaken[p.track] || a.detTaken[p.det] {
			continue
		}
		a.trackTaken[p.track] = true
		a.detTaken[p.det] = true
		a.observe(a.tracks[p.track], dets[p.det], now)
	}

	for ti, tr := range a.tracks {
		if !a.trackTaken[ti] {
			a.miss(tr, dt)
		}
	}
	a.tracks = slices.DeleteFunc(a.tracks, func(tr *track) bool {
		return tr.misses >= a.cfg.MaxMisses || tr.ent.Confidence < a.cfg.ForgetThreshold
	})

	for di, d := range dets {
		if a.detTaken[di] {
			continue
		}
		tr := &track{ent: Entity{ID: a.newID(), Label: d.Label}}
		a.observe(tr, d, now)
		tr.ent.FramePosition = FramePosition(d)
		tr.ent.WorldAngle = a.perception.FrameToWorld(tr.ent.FramePosition)
		a.tracks = append(a.tracks, tr)
	}
}

func (a *Associator) observe(tr *track, d detection.Detection, now time.Time) {
	e := &tr.ent
	pos := FramePosition(d)
	smoothed := a.cfg.PositionSmoothing*pos + (1-a.cfg.PositionSmoothing)*e.FramePosition
	if abs(smoothed-e.FramePosition) >= a.cfg.JitterThreshold {
		e.FramePosition = smoothed
		e.WorldAngle = a.perception.FrameToWorld(smoothed)
	}
	e.Box = Box{X: d.X, Y: d.Y, W: d.W, H: d.H}
	e.Distance = a.perception.Distance(d)
	e.Confidence = d.Confidence
	e.State = trackable.Tracking
	e.LastSeen = now
	tr.misses = 0
}

func (a *Associator) miss(tr *track, dt float64) {
	tr.misses++
	tr.ent.State = trackable.Limited
	tr.ent.Confidence -= a.cfg.ConfidenceDecay * dt
	if tr.ent.Confidence < 0 {
		tr.ent.Confidence = 0
	}
}

// Snapshot appends the live tracks to dst in creation order
func (a *Associator) Snapshot(dst []Entity) []Entity {
	for _, tr := range a.tracks {
		dst = append(dst, tr.ent)
	}
	return dst
}

// Len returns the number of live tracks
func (a *Associator) Len() int {
	return len(a.tracks)
}

// Clear forgets every track
func (a *Associator) Clear() {
	clear(a.tracks)
	a.tracks = a.tracks[:0]
	a.lastUpdate = time.Time{}
}

func resetFlags(flags []bool, n int) []bool {
	if cap(flags) < n {
		return make([]bool, n)
	}
	flags = flags[:n]
	clear(flags)
	return flags
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
