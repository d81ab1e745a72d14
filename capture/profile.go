package capture

import (
	"time"

	"go-attendance-agent/device"
)

// Purpose identifies what a capture session is for. It drives which
// endpoint receives the frames and whether a location fix is required.
type Purpose int

const (
	PurposeEnroll Purpose = iota
	PurposeCheckIn
	PurposeCheckOut
)

func (p Purpose) String() string {
	switch p {
	case PurposeEnroll:
		return "enroll"
	case PurposeCheckIn:
		return "checkin"
	case PurposeCheckOut:
		return "checkout"
	default:
		return "unknown"
	}
}

// RequiresLocation reports whether the purpose needs a geolocation fix.
// Enrollment has no location requirement.
func (p Purpose) RequiresLocation() bool {
	return p == PurposeCheckIn || p == PurposeCheckOut
}

// ParsePurpose maps the wire name back to a Purpose.
func ParsePurpose(s string) (Purpose, bool) {
	switch s {
	case "enroll":
		return PurposeEnroll, true
	case "checkin", "check-in":
		return PurposeCheckIn, true
	case "checkout", "check-out":
		return PurposeCheckOut, true
	default:
		return 0, false
	}
}

// Profile holds the tunable parameters of one capture flow. The historic
// enrollment variants (20 frames over 3s with a minimum of 10, and 50
// frames over 50s with a minimum of 50) are both expressible here; the
// shorter one is the default.
type Profile struct {
	FrameCount    int
	CaptureWindow time.Duration
	MinFrames     int
	CountdownFrom int
	MaxAttempts   int

	// SuccessDelay keeps the success state visible before the caller is
	// signalled; TerminalDelay precedes the forced exit after the last
	// failed attempt.
	SuccessDelay  time.Duration
	TerminalDelay time.Duration

	Constraints device.Constraints
	Location    device.LocateOptions
}

// EnrollProfile is the default face registration flow.
func EnrollProfile() Profile {
	return Profile{
		FrameCount:    20,
		CaptureWindow: 3 * time.Second,
		MinFrames:     10,
		CountdownFrom: 3,
		MaxAttempts:   3,
		SuccessDelay:  time.Second,
		TerminalDelay: 2 * time.Second,
		Constraints:   device.DefaultConstraints,
	}
}

// AttendanceProfile is the default check-in/check-out flow.
func AttendanceProfile() Profile {
	return Profile{
		FrameCount:    20,
		CaptureWindow: 3 * time.Second,
		MinFrames:     10,
		CountdownFrom: 5,
		MaxAttempts:   3,
		SuccessDelay:  time.Second,
		TerminalDelay: 2 * time.Second,
		Constraints:   device.DefaultConstraints,
		Location: device.LocateOptions{
			HighAccuracy: true,
			Timeout:      10 * time.Second,
			MaximumAge:   30 * time.Second,
		},
	}
}

// ProfileFor returns the default profile for a purpose.
func ProfileFor(p Purpose) Profile {
	if p == PurposeEnroll {
		return EnrollProfile()
	}
	return AttendanceProfile()
}
