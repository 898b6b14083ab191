package opencv

import (
	"context"
	"errors"
	"sync"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Camera liest Frames von einem lokalen Videogerät
type Camera struct {
	cfg     config.CameraConfig
	capture *gocv.VideoCapture
	buf     gocv.Mat
	mu      sync.Mutex
	closed  bool
}

// OpenCamera öffnet das konfigurierte Gerät; Fehler werden als CameraUnavailable gemeldet
func OpenCamera(cfg config.CameraConfig) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(cfg.ID)
	if err != nil {
		return nil, failure.New(failure.CameraUnavailable, "opencv.OpenCamera", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, failure.Errorf(failure.CameraUnavailable, "opencv.OpenCamera", "camera %d could not be opened", cfg.ID)
	}
	if cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	log.WithFields(log.Fields{
		"camera": cfg.ID,
		"width":  capture.Get(gocv.VideoCaptureFrameWidth),
		"height": capture.Get(gocv.VideoCaptureFrameHeight),
	}).Info("Camera opened")

	return &Camera{cfg: cfg, capture: capture, buf: gocv.NewMat()}, nil
}

// Read liest den nächsten Frame. Leere Frames ergeben BadFrame.
func (c *Camera) Read(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return vision.Frame{}, failure.Errorf(failure.CameraUnavailable, "opencv.Camera.Read", "camera closed")
	}

	if ok := c.capture.Read(&c.buf); !ok || c.buf.Empty() {
		return vision.Frame{}, failure.New(failure.BadFrame, "opencv.Camera.Read", errors.New("empty frame"))
	}
	frame, err := matToFrame(c.buf)
	if err != nil {
		return vision.Frame{}, failure.New(failure.BadFrame, "opencv.Camera.Read", err)
	}
	frame.CapturedAt = time.Now()
	return frame, nil
}

// Close gibt die Kamera frei; mehrfacher Aufruf ist erlaubt
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf.Close()
	log.Infof("Camera %d released", c.cfg.ID)
	return c.capture.Close()
}
