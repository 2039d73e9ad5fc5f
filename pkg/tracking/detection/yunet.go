package detection

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-trackables/internal/log"
)

// FaceLabel is the label YuNet puts on its detections
const FaceLabel = "face"

// errEmptyImage is returned for JPEG data that decodes to nothing
var errEmptyImage = errors.New("empty image")

// decodeJPEG returns a BGR Mat the caller must Close
func decodeJPEG(jpeg []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return img, fmt.Errorf("decode image: %w", err)
	}
	if img.Empty() {
		img.Close()
		return img, errEmptyImage
	}
	return img, nil
}

// yunetRow is one face from FaceDetectorYN: box in pixels (0-3), five
// landmark points (4-13) and the score (14)
type yunetRow [15]float32

// detection normalizes the box to the frame
func (r yunetRow) detection(frameW, frameH float64) Detection {
	return Detection{
		X:          float64(r[0]) / frameW,
		Y:          float64(r[1]) / frameH,
		W:          float64(r[2]) / frameW,
		H:          float64(r[3]) / frameH,
		Confidence: float64(r[14]),
		Label:      FaceLabel,
	}
}

// YuNetDetector finds faces with OpenCV's FaceDetectorYN
type YuNetDetector struct {
	mu       sync.Mutex // FaceDetectorYN is not reentrant
	detector gocv.FaceDetectorYN
	size     image.Point
}

// NewYuNet loads the YuNet model at cfg.ModelPath
func NewYuNet(cfg Config) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	size := image.Pt(cfg.InputWidth, cfg.InputHeight)
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath, "", size,
		float32(cfg.ConfidenceThresh), float32(cfg.NMSThresh), cfg.TopK,
		int(gocv.NetBackendDefault), int(gocv.NetTargetCPU),
	)
	return &YuNetDetector{detector: detector, size: size}, nil
}

// Detect implements Detector
func (d *YuNetDetector) Detect(jpeg []byte) ([]Detection, error) {
	img, err := decodeJPEG(jpeg)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if size := image.Pt(img.Cols(), img.Rows()); size != d.size {
		d.detector.SetInputSize(size)
		d.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	frameW, frameH := float64(img.Cols()), float64(img.Rows())
	out := make([]Detection, 0, faces.Rows())
	for i := 0; i < faces.Rows(); i++ {
		var row yunetRow
		for col := range row {
			row[col] = faces.GetFloatAt(i, col)
		}
		out = append(out, row.detection(frameW, frameH))
	}

	if len(out) > 0 {
		log.Debug("yunet detections", "faces", len(out))
	}
	return out, nil
}

// Close implements Detector
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
