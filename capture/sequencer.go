package capture

import (
	"context"
	"image"
	"log/slog"
	"time"

	"go-attendance-agent/images"
)

// Frame is a single encoded capture plus its ordinal index. Immutable
// once created.
type Frame struct {
	Index int
	Name  string
	Data  []byte
}

// FrameSource delivers decoded frames from an active stream. A nil image
// with a nil error means no frame is ready yet. device.Stream satisfies it.
type FrameSource interface {
	Grab() (image.Image, error)
}

// FrameEncoder turns a decoded frame into an encoded artifact.
// *images.Encoder satisfies it.
type FrameEncoder interface {
	CaptureFrame(src image.Image) ([]byte, error)
}

// Sequencer drives the visible countdown and the fixed-duration,
// fixed-cadence multi-frame capture. A handful of dropped frames is
// tolerated; the loop always runs its full iteration count so the
// wall-clock duration stays bounded.
type Sequencer struct {
	clock   Clock
	encoder FrameEncoder
}

// NewSequencer creates a sequencer using the given clock and encoder.
func NewSequencer(clock Clock, encoder FrameEncoder) *Sequencer {
	return &Sequencer{clock: clock, encoder: encoder}
}

// Countdown ticks from `from` down to 0 at one tick per second, reporting
// every value through onTick so the owner can render it.
func (s *Sequencer) Countdown(ctx context.Context, from int, onTick func(value int)) error {
	for v := from; v > 0; v-- {
		if onTick != nil {
			onTick(v)
		}
		if err := s.clock.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	if onTick != nil {
		onTick(0)
	}
	return nil
}

// Run captures up to frameCount frames spread evenly over window. Failed
// grabs and not-ready frames are logged and skipped without aborting; the
// interval is waited regardless so overall timing is preserved. The
// returned slice has length 0..frameCount.
func (s *Sequencer) Run(ctx context.Context, src FrameSource, purpose Purpose, frameCount int, window time.Duration, onProgress func(captured, attempted int)) ([]Frame, error) {
	interval := window / time.Duration(frameCount)
	frames := make([]Frame, 0, frameCount)

	for i := 0; i < frameCount; i++ {
		img, err := src.Grab()
		if err != nil {
			slog.Warn("Frame grab failed, skipping", "index", i, "error", err)
		} else if data, err := s.encoder.CaptureFrame(img); err != nil {
			slog.Debug("Frame skipped", "index", i, "error", err)
		} else {
			frames = append(frames, Frame{
				Index: i,
				Name:  images.Filename(purpose.String(), "face", s.clock.Now()),
				Data:  data,
			})
		}

		if onProgress != nil {
			onProgress(len(frames), i+1)
		}
		if err := s.clock.Sleep(ctx, interval); err != nil {
			return frames, err
		}
	}

	slog.Debug("Capture sequence completed", "captured", len(frames), "target", frameCount)
	return frames, nil
}
