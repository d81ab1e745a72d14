package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go-attendance-agent/capture"
	"go-attendance-agent/device"
	"go-attendance-agent/events"
	"go-attendance-agent/models"
	"go-attendance-agent/storage"

	"github.com/stretchr/testify/require"
)

// fastProfile keeps attempts near-instant so async handler tests finish
// without simulated clocks.
func fastProfile(capture.Purpose) capture.Profile {
	return capture.Profile{
		FrameCount:    4,
		CaptureWindow: 4 * time.Millisecond,
		MinFrames:     2,
		CountdownFrom: 0,
		MaxAttempts:   3,
		SuccessDelay:  0,
		TerminalDelay: 0,
		Constraints:   device.DefaultConstraints,
		Location: device.LocateOptions{
			Timeout: 50 * time.Millisecond,
		},
	}
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 140, B: 90, A: 255})
		}
	}
	return img
}

type fakeStream struct {
	mu         sync.Mutex
	closeCalls int
	closed     bool
}

func (s *fakeStream) Grab() (image.Image, error) {
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
	acquires int
	streams  []*fakeStream
}

func (c *fakeCamera) Acquire(ctx context.Context, _ device.Constraints) (device.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	stream := &fakeStream{}
	c.streams = append(c.streams, stream)
	return stream, nil
}

type fakeLocator struct{}

func (fakeLocator) Locate(ctx context.Context, _ device.LocateOptions) (models.Location, error) {
	return models.Location{Latitude: 52.07, Longitude: 4.3}, nil
}

type fakeProber struct{}

func (fakeProber) CheckPermissions(ctx context.Context) device.Permissions {
	return device.Permissions{Camera: device.PermissionGranted, Location: device.PermissionGranted}
}

// fakeSubmitter lets tests force submission failures and block mid-check
// to observe in-flight attempts.
type fakeSubmitter struct {
	mu          sync.Mutex
	checkResult models.FaceCheckResult
	submitErr   error
	enrollErr   error
	blockCheck  chan struct{}

	enrollCalls int
	submitCalls int
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{checkResult: models.FaceCheckResult{HasFace: true, Count: 1}}
}

func (f *fakeSubmitter) CheckFace(ctx context.Context, _ capture.Frame) (models.FaceCheckResult, error) {
	f.mu.Lock()
	block := f.blockCheck
	result := f.checkResult
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return result, nil
}

func (f *fakeSubmitter) EnrollFace(ctx context.Context, subject string, frames []capture.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollCalls++
	return f.enrollErr
}

func (f *fakeSubmitter) SubmitAttendance(ctx context.Context, purpose capture.Purpose, subject string, frames []capture.Frame, loc models.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	return f.submitErr
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.SessionEvent
}

func (p *fakePublisher) Publish(_ context.Context, event events.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []events.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.SessionEvent(nil), p.events...)
}

type testHarness struct {
	url       string
	state     *ServerState
	camera    *fakeCamera
	submitter *fakeSubmitter
	attempts  storage.AttemptStore
	publisher *fakePublisher
}

func startTestServer(t *testing.T) *testHarness {
	t.Helper()

	camera := &fakeCamera{}
	submitter := newFakeSubmitter()
	attempts := storage.NewInMemoryAttemptStore()
	publisher := &fakePublisher{}

	state := NewServerState(StateOptions{
		Camera:    camera,
		Locator:   fakeLocator{},
		Prober:    fakeProber{},
		Submitter: submitter,
		Attempts:  attempts,
		Publisher: publisher,
		Profiles:  fastProfile,
	})

	srv := httptest.NewServer(NewRouter(state))
	t.Cleanup(srv.Close)
	t.Cleanup(state.Registry().Shutdown)

	return &testHarness{
		url:       srv.URL,
		state:     state,
		camera:    camera,
		submitter: submitter,
		attempts:  attempts,
		publisher: publisher,
	}
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded T
	if json.Unmarshal(raw, &decoded) == nil {
		return resp, raw, &decoded
	}
	return resp, raw, nil
}

func getSnapshot(t *testing.T, url, sessionId string) capture.Snapshot {
	t.Helper()

	resp, err := http.Get(url + "/api/sessions/" + sessionId)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot capture.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	return snapshot
}

// waitForState polls the session resource until it reports the wanted
// state or the deadline passes.
func waitForState(t *testing.T, url, sessionId, want string) capture.Snapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := getSnapshot(t, url, sessionId)
		if snapshot.State == want {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %q", sessionId, want)
	return capture.Snapshot{}
}

func createSession(t *testing.T, url, purpose, subject string) string {
	t.Helper()

	resp, body, created := postJSON[CreateSessionResponse](t, url+"/api/sessions", CreateSessionRequest{
		Purpose: purpose,
		Subject: subject,
	})
	require.Equalf(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	require.NotNil(t, created)
	require.NotEmpty(t, created.SessionId)
	return created.SessionId
}

func startAttempt(t *testing.T, url, sessionId string) {
	t.Helper()

	resp, body, _ := postJSON[RunAttemptResponse](t, url+"/api/sessions/"+sessionId+"/attempt", nil)
	require.Equalf(t, http.StatusAccepted, resp.StatusCode, "body: %s", body)
}
