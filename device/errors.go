package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies device acquisition failures.
type ErrorKind int

const (
	// KindPermissionDenied means the user or system denied access to the
	// capability. Not retryable without intervention outside the agent.
	KindPermissionDenied ErrorKind = iota
	// KindUnavailable means the device exists but could not deliver
	// (missing hardware, busy device, unreachable provider).
	KindUnavailable
	// KindTimeout means the acquisition did not complete in time.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the classified failure surfaced by the device access layer.
type Error struct {
	Capability Capability
	Kind       ErrorKind
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Capability, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s %s", e.Capability, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError wraps cause as a classified device error.
func NewError(capability Capability, kind ErrorKind, cause error) *Error {
	return &Error{Capability: capability, Kind: kind, Cause: cause}
}

// IsPermissionDenied reports whether err is a permission denial for any capability.
func IsPermissionDenied(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindPermissionDenied
}

// IsTimeout reports whether err is a classified device timeout.
func IsTimeout(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindTimeout
}

// Remediation returns the user-facing message for a classified device
// error, including the step-by-step instructions for denied permissions.
// Unclassified errors get a generic message.
func Remediation(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return "Something went wrong while preparing the capture. Please try again."
	}

	switch {
	case de.Capability == CapabilityCamera && de.Kind == KindPermissionDenied:
		return "Camera access is blocked. Open your system settings, go to " +
			"Privacy > Camera, allow access for this terminal, then try again."
	case de.Capability == CapabilityLocation && de.Kind == KindPermissionDenied:
		return "Location access is blocked. Open your system settings, go to " +
			"Privacy > Location Services, allow access for this terminal, then try again."
	case de.Capability == CapabilityCamera && de.Kind == KindUnavailable:
		return "No camera could be reached. Check that the camera is connected and not in use by another application."
	case de.Capability == CapabilityLocation && de.Kind == KindUnavailable:
		return "Your location could not be determined. Check that location services are running."
	case de.Kind == KindTimeout:
		return fmt.Sprintf("Timed out waiting for the %s. Please try again.", de.Capability)
	default:
		return "Something went wrong while preparing the capture. Please try again."
	}
}
