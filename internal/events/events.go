package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies a terminal lifecycle event
type Type string

const (
	TypeSessionCreated  Type = "session.created"
	TypeSessionDeleted  Type = "session.deleted"
	TypeSessionExpired  Type = "session.expired"
	TypeLanguageChanged Type = "session.language_changed"
	TypeRunStarted      Type = "run.started"
	TypeRunCompleted    Type = "run.completed"
	TypeRunFailed       Type = "run.failed"
	TypeRunCancelled    Type = "run.cancelled"
	TypeDebugStarted    Type = "debug.started"
	TypeDebugStepped    Type = "debug.stepped"
	TypeDebugStopped    Type = "debug.stopped"
)

// Event is a terminal lifecycle notification
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Language  string         `json:"language,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event with a fresh id and timestamp
func New(typ Type, sessionID, language string, data map[string]any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		SessionID: sessionID,
		Language:  language,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Publisher delivers events to interested parties
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}
