package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-trackables/internal/log"
)

// ObjectDetection represents a detected object with class info
type ObjectDetection struct {
	Detection
	ClassID   int    // COCO class ID
	ClassName string // Human-readable class name
}

// ObjectDetector is a multi-class detector such as YOLO
type ObjectDetector interface {
	Detect(jpeg []byte) ([]ObjectDetection, error)
	Close() error
}

// ClassDetector narrows an ObjectDetector to one class so it can feed a
// single-kind tracking backend. It implements Detector.
type ClassDetector struct {
	Objects ObjectDetector
	Class   string
}

// NewClassDetector wraps objects, keeping only detections of class
func NewClassDetector(objects ObjectDetector, class string) *ClassDetector {
	return &ClassDetector{Objects: objects, Class: class}
}

// Detect implements Detector
func (c *ClassDetector) Detect(jpeg []byte) ([]Detection, error) {
	all, err := c.Objects.Detect(jpeg)
	if err != nil {
		return nil, err
	}
	var out []Detection
	for _, det := range all {
		if det.ClassName != c.Class {
			continue
		}
		d := det.Detection
		d.Label = det.ClassName
		out = append(out, d)
	}
	return out, nil
}

// Close implements Detector
func (c *ClassDetector) Close() error {
	return c.Objects.Close()
}

// YOLODetector runs a YOLOv8 ONNX model through OpenCV's DNN module
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// NewYOLO loads the model at cfg.ModelPath
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the JPEG image
func (d *YOLODetector) Detect(jpeg []byte) ([]ObjectDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := decodeJPEG(jpeg)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output is [1, 84, N]: 4 box values + 80 class scores per candidate
	shape := output.Size()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}

	cands := decodeYOLOv8(data, shape[2], shape[1], d.config, float32(img.Cols()), float32(img.Rows()))
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)

	imgW, imgH := float64(img.Cols()), float64(img.Rows())
	detections := make([]ObjectDetection, 0, len(keep))
	for _, idx := range keep {
		c := cands[idx]
		name := className(c.classID)
		detections = append(detections, ObjectDetection{
			Detection: Detection{
				X:          float64(c.box.Min.X) / imgW,
				Y:          float64(c.box.Min.Y) / imgH,
				W:          float64(c.box.Dx()) / imgW,
				H:          float64(c.box.Dy()) / imgH,
				Confidence: float64(c.score),
				Label:      name,
			},
			ClassID:   c.classID,
			ClassName: name,
		})
	}

	if len(detections) > 0 {
		log.Debug("yolo detections", "objects", len(detections))
	}
	return detections, nil
}

// Close releases the detector resources
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}

type yoloCandidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// decodeYOLOv8 reads a column-major [fields x n] tensor (fields = 4 box
// values then one score per class) into candidates above the confidence
// threshold, with boxes scaled to image pixels.
func decodeYOLOv8(data []float32, n, fields int, cfg YOLOConfig, imgW, imgH float32) []yoloCandidate {
	if fields <= 4 || len(data) < n*fields {
		return nil
	}
	sx := imgW / float32(cfg.InputWidth)
	sy := imgH / float32(cfg.InputHeight)

	var out []yoloCandidate
	for i := 0; i < n; i++ {
		best, bestClass := float32(0), 0
		for c := 4; c < fields; c++ {
			if s := data[c*n+i]; s > best {
				best, bestClass = s, c-4
			}
		}
		if best < cfg.ConfidenceThresh {
			continue
		}

		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		out = append(out, yoloCandidate{
			box: image.Rect(
				int((cx-w/2)*sx), int((cy-h/2)*sy),
				int((cx+w/2)*sx), int((cy+h/2)*sy),
			),
			score:   best,
			classID: bestClass,
		})
	}
	return out
}

func className(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "unknown"
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
