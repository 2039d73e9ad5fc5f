// Package device captures JPEG frames from a local camera with gocv.
package device

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/pkg/camera"
)

var (
	// ErrNoFrame is returned when the device delivers no image
	ErrNoFrame = errors.New("camera: no frame")

	// ErrClosed is returned by every call after Close
	ErrClosed = errors.New("camera: closed")
)

// Capture reads frames from a local device with gocv and encodes them as
// JPEG. It satisfies tracking.VideoSource.
type Capture struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	config camera.Config
	closed bool
}

// Open starts capturing from cfg.Device
func Open(cfg camera.Config) (*Capture, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("camera: open %s: %w", cfg.Device, err)
	}

	c := &Capture{vc: vc, frame: gocv.NewMat()}
	c.apply(cfg)

	log.Info("camera opened", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height, "fps", cfg.Framerate)
	return c, nil
}

// Apply changes capture settings on the open device. It is used as the
// camera.Manager's OnConfigChange callback.
func (c *Capture) Apply(cfg camera.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if cfg.Device != c.config.Device {
		return fmt.Errorf("camera: device change requires a restart")
	}
	c.apply(cfg)
	return nil
}

func (c *Capture) apply(cfg camera.Config) {
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	c.vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if cfg.Brightness != 0 {
		c.vc.Set(gocv.VideoCaptureBrightness, cfg.Brightness)
	}
	c.config = cfg
}

// CaptureJPEG grabs the next frame and encodes it
func (c *Capture) CaptureJPEG() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.frame, []int{gocv.IMWriteJpegQuality, c.config.Quality})
	if err != nil {
		return nil, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the device. Closing twice is a no-op.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.frame.Close()
	return c.vc.Close()
}
