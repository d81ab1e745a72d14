package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Webcam acquires streams from a local V4L2 camera device via GoCV.
type Webcam struct {
	deviceID int
}

// NewWebcam creates a camera backed by the given device id (0 = default).
func NewWebcam(deviceID int) *Webcam {
	return &Webcam{deviceID: deviceID}
}

func (w *Webcam) devicePath() string {
	return fmt.Sprintf("/dev/video%d", w.deviceID)
}

// Acquire opens the camera at the preferred resolution. Open failures are
// classified: an inaccessible device node is a permission denial,
// everything else means the camera is unavailable.
func (w *Webcam) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(CapabilityCamera, KindUnavailable, err)
	}

	cam, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		if nodeErr := probeNode(w.devicePath()); errors.Is(nodeErr, fs.ErrPermission) {
			return nil, NewError(CapabilityCamera, KindPermissionDenied, err)
		}
		return nil, NewError(CapabilityCamera, KindUnavailable, err)
	}

	if c.IdealWidth > 0 {
		cam.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	}
	if c.IdealHeight > 0 {
		cam.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	}

	slog.Info("Camera stream acquired",
		"device", w.devicePath(),
		"width", int(cam.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(cam.Get(gocv.VideoCaptureFrameHeight)))

	return &webcamStream{cam: cam, mat: gocv.NewMat()}, nil
}

func probeNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

type webcamStream struct {
	mu     sync.Mutex
	cam    *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

// Grab reads the current frame. A frame that is not ready yet is reported
// as (nil, nil) so the sequencer can skip it without aborting.
func (s *webcamStream) Grab() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, NewError(CapabilityCamera, KindUnavailable, errors.New("stream closed"))
	}
	if ok := s.cam.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, nil
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to decode camera frame: %w", err)
	}
	return img, nil
}

// Close stops the capture and releases the device. Safe to call twice.
func (s *webcamStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.mat.Close(); err != nil {
		slog.Warn("Failed to release frame buffer", "error", err)
	}
	return s.cam.Close()
}

func (s *webcamStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
