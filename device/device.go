package device

import (
	"context"
	"image"
	"log/slog"
	"time"

	"go-attendance-agent/models"
)

// Capability names a hardware capability the agent needs.
type Capability string

const (
	CapabilityCamera   Capability = "camera"
	CapabilityLocation Capability = "location"
)

// PermissionState is the tri-state result of a non-prompting permission probe.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionUnknown PermissionState = "unknown"
)

// Permissions holds the probe result for both capabilities.
type Permissions struct {
	Camera   PermissionState
	Location PermissionState
}

// Constraints describes the preferred camera stream.
type Constraints struct {
	IdealWidth  int
	IdealHeight int
	FacingMode  string // "user" for the front-facing camera
}

// DefaultConstraints matches the preferred capture resolution.
var DefaultConstraints = Constraints{IdealWidth: 1280, IdealHeight: 720, FacingMode: "user"}

// Stream is an acquired live camera stream. At most one Stream is active
// per capture session; Close must be idempotent and called on every exit
// path, otherwise the camera hardware stays claimed.
type Stream interface {
	// Grab returns the current decoded frame. A nil image with a nil
	// error means the source has not delivered a frame yet.
	Grab() (image.Image, error)
	Close() error
	Active() bool
}

// Camera acquires live streams from a camera device.
type Camera interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// LocateOptions mirror the one-shot position request options.
type LocateOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge allows a cached fix no older than this to be returned
	// instead of a fresh one, trading freshness for speed.
	MaximumAge time.Duration
}

// Locator provides a one-shot geolocation fix.
type Locator interface {
	Locate(ctx context.Context, opts LocateOptions) (models.Location, error)
}

// Prober inspects permission state for both capabilities without
// prompting. Implementations must be side-effect-free.
type Prober interface {
	CheckPermissions(ctx context.Context) Permissions
}

// Release closes a stream, tolerating nil and already-closed streams.
func Release(s Stream) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		slog.Warn("Failed to release camera stream", "error", err)
	}
}
