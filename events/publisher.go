package events

import (
	"context"
	"time"

	"go-attendance-agent/models"
)

// SessionEvent is published when a capture session reaches a terminal
// outcome, so downstream HR systems can react without polling.
type SessionEvent struct {
	SessionID  string           `json:"session_id"`
	Purpose    string           `json:"purpose"`
	Subject    string           `json:"subject"`
	Outcome    string           `json:"outcome"` // "succeeded" or "failed_terminal"
	Attempts   int              `json:"attempts"`
	Location   *models.Location `json:"location,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher emits session outcome events.
type Publisher interface {
	Publish(ctx context.Context, event SessionEvent) error
	Close() error
}

// NoopPublisher drops every event. Used when event publishing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, SessionEvent) error { return nil }
func (NoopPublisher) Close() error                                { return nil }
