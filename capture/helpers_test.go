package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"go-attendance-agent/device"
	"go-attendance-agent/images"
	"go-attendance-agent/models"
)

// fakeClock advances instantly and records every sleep so tests can
// assert the named delay steps without waiting on wall-clock timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	onWait func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1714137600000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	if c.onWait != nil {
		c.onWait()
	}
	return ctx.Err()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 150, B: 100, A: 255})
		}
	}
	return img
}

// fakeStream yields a test frame per grab, returning a not-ready frame
// for the indices listed in failAt. Close counts releases.
type fakeStream struct {
	mu         sync.Mutex
	grabs      int
	failAt     map[int]bool
	closeCalls int
	closed     bool
}

func (s *fakeStream) Grab() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.grabs
	s.grabs++
	if s.failAt[i] {
		return nil, nil // video not ready
	}
	return testFrame(), nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}

func (s *fakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

type fakeCamera struct {
	mu       sync.Mutex
	stream   *fakeStream
	err      error
	acquires int
}

func (c *fakeCamera) Acquire(ctx context.Context, _ device.Constraints) (device.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	if c.err != nil {
		return nil, c.err
	}
	if c.stream == nil {
		c.stream = &fakeStream{}
	}
	return c.stream, nil
}

type fakeLocator struct {
	mu    sync.Mutex
	loc   models.Location
	err   error
	calls int
}

func (l *fakeLocator) Locate(ctx context.Context, _ device.LocateOptions) (models.Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return models.Location{}, l.err
	}
	return l.loc, nil
}

type fakeProber struct {
	perms device.Permissions
}

func (p *fakeProber) CheckPermissions(ctx context.Context) device.Permissions {
	if p.perms.Camera == "" {
		return device.Permissions{Camera: device.PermissionUnknown, Location: device.PermissionUnknown}
	}
	return p.perms
}

// fakeSubmitter records every API call so tests can assert the pre-check
// short-circuit and the minimum-frame gate.
type fakeSubmitter struct {
	mu sync.Mutex

	checkResult models.FaceCheckResult
	checkErr    error
	enrollErr   error
	submitErr   error

	checkCalls    int
	enrollCalls   int
	submitCalls   int
	enrolled      []Frame
	submittedLoc  models.Location
	submittedKind Purpose
}

func (f *fakeSubmitter) CheckFace(ctx context.Context, frame Frame) (models.FaceCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	return f.checkResult, f.checkErr
}

func (f *fakeSubmitter) EnrollFace(ctx context.Context, subject string, frames []Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollCalls++
	f.enrolled = frames
	return f.enrollErr
}

func (f *fakeSubmitter) SubmitAttendance(ctx context.Context, purpose Purpose, subject string, frames []Frame, loc models.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.submittedKind = purpose
	f.submittedLoc = loc
	return f.submitErr
}

func (f *fakeSubmitter) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls + f.enrollCalls + f.submitCalls
}

func testDeps(clock Clock, cam *fakeCamera, loc *fakeLocator, sub *fakeSubmitter) Deps {
	return Deps{
		Clock:     clock,
		Camera:    cam,
		Locator:   loc,
		Prober:    &fakeProber{},
		Submitter: sub,
		Encoder:   images.NewEncoder(),
	}
}
