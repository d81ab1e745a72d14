package capture

// State is the observable progress of a capture session. Transitions only
// happen through the session's named actions, so the exhaustion boundary
// is testable instead of being inferred from UI behavior.
type State int

const (
	// StateIdle is the initial state; also re-entered after a retryable
	// failure once the user is free to start a fresh attempt.
	StateIdle State = iota
	// StateAcquiringPermissions covers permission probing plus location
	// and camera acquisition.
	StateAcquiringPermissions
	// StateCountdown is the visible pre-capture countdown.
	StateCountdown
	// StateCapturing is the timed multi-frame capture.
	StateCapturing
	// StateProcessing covers the minimum-frame gate, the face pre-check
	// and the enroll/verify submission.
	StateProcessing
	// StateSucceeded is terminal: the submission was accepted.
	StateSucceeded
	// StateFailedRetryable records a failed attempt with retries left.
	StateFailedRetryable
	// StateFailedTerminal is the sole failure state with no way back into
	// the flow; it is reached when the attempt limit is exhausted.
	StateFailedTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringPermissions:
		return "acquiring_permissions"
	case StateCountdown:
		return "countdown"
	case StateCapturing:
		return "capturing"
	case StateProcessing:
		return "processing"
	case StateSucceeded:
		return "succeeded"
	case StateFailedRetryable:
		return "failed_retryable"
	case StateFailedTerminal:
		return "failed_terminal"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempts are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedTerminal
}
