// Package detection provides per-frame object detection using computer vision.
// Detections carry no identity; the tracking backend associates them across
// frames.
package detection

import "math"

// Detection represents one detected object in a frame
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
	Label      string  // What was detected ("face", "person", ...)
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// IoU returns the intersection over union of two boxes (0-1)
func (d Detection) IoU(o Detection) float64 {
	ix := math.Min(d.X+d.W, o.X+o.W) - math.Max(d.X, o.X)
	iy := math.Min(d.Y+d.H, o.Y+o.H) - math.Max(d.Y, o.Y)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := d.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detector is the interface for detection backends
type Detector interface {
	// Detect finds objects in the image and returns their positions
	Detect(jpeg []byte) ([]Detection, error)

	// Close releases resources
	Close() error
}

// Config holds face detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.5)
	NMSThresh        float64 // Overlap above which the weaker box is dropped
	TopK             int     // Candidates kept before NMS
	InputWidth       int     // Initial model input width; follows the frame
	InputHeight      int     // Initial model input height
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		TopK:             5000,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Filter keeps detections at or above minConfidence, in place
func Filter(dets []Detection, minConfidence float64) []Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}
