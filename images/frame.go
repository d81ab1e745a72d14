package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"time"

	xdraw "golang.org/x/image/draw"
)

// JPEGQuality is the fixed encode quality for captured frames.
const JPEGQuality = 95

// ErrFrameNotReady is returned when the source has not delivered a decoded
// frame yet (zero intrinsic dimensions). Callers treat this as a tolerable
// single-frame loss, not a fatal error.
var ErrFrameNotReady = errors.New("frame source not ready")

// Encoder converts raw video frames into compressed JPEG artifacts.
// The offscreen raster is reused between calls, so an Encoder must not be
// shared by concurrent captures.
type Encoder struct {
	// MaxWidth/MaxHeight, when >0, bound the encoded frame size; larger
	// frames are downscaled keeping aspect ratio before encoding.
	MaxWidth  int
	MaxHeight int

	scratch *image.RGBA
}

// NewEncoder returns an Encoder with no size bound.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// CaptureFrame renders the current frame onto the reused offscreen raster
// sized to the frame's intrinsic dimensions and encodes it as JPEG.
func (e *Encoder) CaptureFrame(src image.Image) ([]byte, error) {
	if src == nil {
		return nil, ErrFrameNotReady
	}
	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrFrameNotReady
	}

	if e.MaxWidth > 0 || e.MaxHeight > 0 {
		src = scaleToFit(src, e.MaxWidth, e.MaxHeight)
		bounds = src.Bounds()
	}

	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	if e.scratch == nil || e.scratch.Bounds() != rect {
		e.scratch = image.NewRGBA(rect)
	}
	xdraw.Draw(e.scratch, rect, src, bounds.Min, xdraw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, e.scratch, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	slog.Debug("Frame encoded", "width", rect.Dx(), "height", rect.Dy(), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// Filename builds the upload filename for a captured frame,
// e.g. "enroll_face_1714137600123.jpg".
func Filename(purpose, kind string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d.jpg", purpose, kind, ts.UnixMilli())
}

// scaleToFit scales img to fit within maxW×maxH (keeping aspect ratio)
func scaleToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src // already small enough
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
