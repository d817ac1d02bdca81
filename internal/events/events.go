package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source and schema version stamped on every event.
const (
	SourceName   = "study-engine"
	EventVersion = "1.0"
)

// Event types.
const (
	SessionStarted    = "session.started"
	SessionAnswer     = "session.answer"
	SessionCompleted  = "session.completed"
	ProgressSaved     = "progress.saved"
	SyncEnqueued      = "sync.enqueued"
	SyncReplayed      = "sync.replayed"
	SyncTampered      = "sync.tampered"
	PrefetchCompleted = "prefetch.completed"
	BudgetWarning     = "budget.warning"
)

// Event is the envelope published on the in-process bus.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent stamps a new envelope around data.
func NewEvent(eventType string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    SourceName,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher is the publishing side of the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
