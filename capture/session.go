package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-attendance-agent/device"
	"go-attendance-agent/models"
)

// FailureReason is the user-facing cause of a failed attempt.
type FailureReason string

const (
	ReasonInsufficientFrames FailureReason = "insufficient frames"
	ReasonNoFace             FailureReason = "no face detected"
	ReasonMultipleFaces      FailureReason = "multiple faces detected"
	ReasonProcessing         FailureReason = "processing error"
)

// ErrSessionComplete is returned by Attempt once the session has reached
// a terminal state.
var ErrSessionComplete = errors.New("capture session already complete")

// Submitter sends a capture attempt's frames to the HR API. The session
// guarantees the pre-check completes before any enroll or attendance
// request is issued.
type Submitter interface {
	// CheckFace performs the cheap single-image face count pre-check.
	CheckFace(ctx context.Context, frame Frame) (models.FaceCheckResult, error)
	// EnrollFace registers the full frame set as biometric reference data.
	EnrollFace(ctx context.Context, subject string, frames []Frame) error
	// SubmitAttendance verifies the frame set for a check-in or
	// check-out at the given location.
	SubmitAttendance(ctx context.Context, purpose Purpose, subject string, frames []Frame, loc models.Location) error
}

// Deps are the collaborators a session needs.
type Deps struct {
	Clock     Clock
	Camera    device.Camera
	Locator   device.Locator
	Prober    device.Prober
	Submitter Submitter
	Encoder   FrameEncoder
}

// Config describes one capture session.
type Config struct {
	Purpose Purpose
	Subject string // employee identifier
	Profile Profile
}

// Snapshot is a consistent view of session progress for rendering.
type Snapshot struct {
	Purpose        string `json:"purpose"`
	Subject        string `json:"subject"`
	State          string `json:"state"`
	Attempt        int    `json:"attempt"`
	MaxAttempts    int    `json:"max_attempts"`
	AttemptsLeft   int    `json:"attempts_left"`
	Countdown      int    `json:"countdown"`
	FramesCaptured int    `json:"frames_captured"`
	Message        string `json:"message,omitempty"`
	Remediation    string `json:"remediation,omitempty"`
}

// Session is one end-to-end biometric capture attempt sequence. It owns
// the only active device stream and releases it on every exit path. A
// Session is driven by a single logical flow; Snapshot and Close may be
// called concurrently with a running attempt.
type Session struct {
	cfg  Config
	deps Deps
	seq  *Sequencer

	mu        sync.Mutex
	state     State
	attempt   int // starts at 1, never exceeds Profile.MaxAttempts
	countdown int
	captured  int
	message   string
	remedy    string
	frames    []Frame
	stream    device.Stream
	location  *models.Location
}

// NewSession creates an idle session. Deps without a Clock default to the
// wall clock.
func NewSession(cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	return &Session{
		cfg:     cfg,
		deps:    deps,
		seq:     NewSequencer(deps.Clock, deps.Encoder),
		state:   StateIdle,
		attempt: 1,
	}
}

// Snapshot returns the current progress view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	left := s.cfg.Profile.MaxAttempts - s.attempt
	if s.state == StateFailedTerminal || s.state == StateSucceeded {
		left = 0
	}
	return Snapshot{
		Purpose:        s.cfg.Purpose.String(),
		Subject:        s.cfg.Subject,
		State:          s.state.String(),
		Attempt:        s.attempt,
		MaxAttempts:    s.cfg.Profile.MaxAttempts,
		AttemptsLeft:   left,
		Countdown:      s.countdown,
		FramesCaptured: s.captured,
		Message:        s.message,
		Remediation:    s.remedy,
	}
}

// Location returns a copy of the location fix held by the session, or
// nil when none was acquired.
func (s *Session) Location() *models.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return nil
	}
	loc := *s.location
	return &loc
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt runs one complete pass: permissions, location (attendance
// only), camera, countdown, capture, gate, pre-check, submission. It
// returns the resulting state. Device and permission failures do not
// consume an attempt slot; submission failures do, and exhausting the
// limit yields StateFailedTerminal after the configured exit delay.
func (s *Session) Attempt(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return s.state, ErrSessionComplete
	}
	// a fresh attempt always begins from idle
	s.state = StateIdle
	s.message = ""
	s.remedy = ""
	s.countdown = 0
	s.captured = 0
	s.frames = nil
	s.mu.Unlock()

	state, err := s.runAttempt(ctx)

	// stream hygiene: whatever path we exited through, the device is free
	s.releaseStream()
	return state, err
}

func (s *Session) runAttempt(ctx context.Context) (State, error) {
	profile := s.cfg.Profile

	s.transition(StateAcquiringPermissions)

	perms := s.deps.Prober.CheckPermissions(ctx)
	slog.Debug("Permission probe completed", "camera", perms.Camera, "location", perms.Location)
	if perms.Camera == device.PermissionDenied {
		return s.deviceFailure(device.NewError(device.CapabilityCamera, device.KindPermissionDenied, nil))
	}
	if s.cfg.Purpose.RequiresLocation() && perms.Location == device.PermissionDenied {
		return s.deviceFailure(device.NewError(device.CapabilityLocation, device.KindPermissionDenied, nil))
	}

	// the location fix comes first so a denied location never leaves a
	// freshly opened camera stream dangling
	if s.cfg.Purpose.RequiresLocation() {
		loc, err := s.deps.Locator.Locate(ctx, profile.Location)
		if err != nil {
			return s.deviceFailure(err)
		}
		s.mu.Lock()
		s.location = &loc
		s.mu.Unlock()
		slog.Info("Location fix acquired", "purpose", s.cfg.Purpose.String())
	}

	stream, err := s.deps.Camera.Acquire(ctx, profile.Constraints)
	if err != nil {
		return s.deviceFailure(err)
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	s.transition(StateCountdown)
	if err := s.seq.Countdown(ctx, profile.CountdownFrom, func(v int) {
		s.mu.Lock()
		s.countdown = v
		s.mu.Unlock()
	}); err != nil {
		return s.aborted(err)
	}

	s.transition(StateCapturing)
	frames, err := s.seq.Run(ctx, stream, s.cfg.Purpose, profile.FrameCount, profile.CaptureWindow, func(captured, _ int) {
		s.mu.Lock()
		s.captured = captured
		s.mu.Unlock()
	})
	if err != nil {
		return s.aborted(err)
	}
	s.mu.Lock()
	s.frames = frames
	s.mu.Unlock()

	s.transition(StateProcessing)
	return s.process(ctx, frames)
}

func (s *Session) process(ctx context.Context, frames []Frame) (State, error) {
	profile := s.cfg.Profile

	if len(frames) < profile.MinFrames {
		slog.Warn("Not enough frames captured",
			"captured", len(frames), "minimum", profile.MinFrames)
		return s.attemptFailed(ctx, ReasonInsufficientFrames)
	}

	// checking only the last frame for exactly one face cheaply rejects
	// bad captures before committing to the full upload
	check, err := s.deps.Submitter.CheckFace(ctx, frames[len(frames)-1])
	if err != nil {
		slog.Error("Face pre-check failed", "error", err)
		return s.attemptFailed(ctx, ReasonProcessing)
	}
	switch {
	case check.Count == 0 || !check.HasFace:
		return s.attemptFailed(ctx, ReasonNoFace)
	case check.Count > 1:
		return s.attemptFailed(ctx, ReasonMultipleFaces)
	}

	if s.cfg.Purpose == PurposeEnroll {
		err = s.deps.Submitter.EnrollFace(ctx, s.cfg.Subject, frames)
	} else {
		var loc models.Location
		s.mu.Lock()
		if s.location != nil {
			loc = *s.location
		}
		s.mu.Unlock()
		err = s.deps.Submitter.SubmitAttendance(ctx, s.cfg.Purpose, s.cfg.Subject, frames, loc)
	}
	if err != nil {
		slog.Error("Submission failed", "purpose", s.cfg.Purpose.String(), "error", err)
		return s.attemptFailed(ctx, ReasonProcessing)
	}

	return s.succeeded(ctx)
}

func (s *Session) succeeded(ctx context.Context) (State, error) {
	s.releaseStream()

	s.mu.Lock()
	s.state = StateSucceeded
	s.message = fmt.Sprintf("%s completed", s.cfg.Purpose.String())
	s.mu.Unlock()

	slog.Info("Capture session succeeded",
		"purpose", s.cfg.Purpose.String(), "subject", s.cfg.Subject)

	// keep the success state visible before signalling the caller
	if err := s.deps.Clock.Sleep(ctx, s.cfg.Profile.SuccessDelay); err != nil {
		return StateSucceeded, nil
	}
	return StateSucceeded, nil
}

// attemptFailed consumes one attempt slot. The last slot forces the
// terminal state and its fixed exit delay; otherwise capture state is
// reset and the session waits for the user to start a fresh attempt.
func (s *Session) attemptFailed(ctx context.Context, reason FailureReason) (State, error) {
	s.releaseStream()

	s.mu.Lock()
	terminal := s.attempt >= s.cfg.Profile.MaxAttempts
	if terminal {
		s.state = StateFailedTerminal
	} else {
		s.attempt++
		s.state = StateFailedRetryable
	}
	s.frames = nil
	s.message = string(reason)
	attempt := s.attempt
	s.mu.Unlock()

	slog.Warn("Capture attempt failed",
		"reason", string(reason), "attempt", attempt,
		"max_attempts", s.cfg.Profile.MaxAttempts, "terminal", terminal)

	if terminal {
		// fixed delay before the forced exit, simulated in tests
		_ = s.deps.Clock.Sleep(ctx, s.cfg.Profile.TerminalDelay)
		return StateFailedTerminal, nil
	}
	return StateFailedRetryable, nil
}

// deviceFailure handles permission/device errors at the acquisition
// boundary: no partial capture is attempted and no attempt slot is
// consumed, but the user gets a remediation message.
func (s *Session) deviceFailure(err error) (State, error) {
	s.releaseStream()

	s.mu.Lock()
	s.state = StateFailedRetryable
	s.message = err.Error()
	s.remedy = device.Remediation(err)
	s.mu.Unlock()

	slog.Warn("Device acquisition failed", "error", err)
	return StateFailedRetryable, err
}

func (s *Session) aborted(err error) (State, error) {
	s.releaseStream()

	s.mu.Lock()
	s.state = StateFailedRetryable
	s.message = "capture interrupted"
	s.mu.Unlock()

	return StateFailedRetryable, err
}

func (s *Session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	slog.Debug("Session transition", "from", prev.String(), "to", next.String())
}

func (s *Session) releaseStream() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	device.Release(stream)
}

// Close abandons the session and releases the device stream. Safe to call
// at any point, including during or after a completed attempt.
func (s *Session) Close() {
	s.releaseStream()
}
