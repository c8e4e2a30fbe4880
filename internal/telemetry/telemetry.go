// Package telemetry counts product events. Tracking is strictly
// fire-and-forget: events are queued durably and delivered to the sink by a
// background worker, and nothing in the user-facing path ever waits on or
// fails because of telemetry.
package telemetry

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/oshelest/shopmate/internal/storage"
)

// EventStore abstracts the durable event queue operations.
type EventStore interface {
	EnqueueEvent(e storage.Event) error
	ClaimNextEvent() (*storage.Event, error)
	CompleteEvent(id string) error
	FailEvent(id string, errMsg string) error
}

// Tracker enqueues events for later delivery. A Tracker with a nil store is
// a valid no-op.
type Tracker struct {
	store  EventStore
	logger *slog.Logger
}

// NewTracker creates a Tracker over the given queue. Pass nil to disable
// tracking entirely.
func NewTracker(store EventStore) *Tracker {
	return &Tracker{store: store, logger: slog.Default()}
}

// Track records one event. Failures are logged and swallowed.
func (t *Tracker) Track(event string, attrs map[string]string) {
	if t == nil || t.store == nil {
		return
	}

	attrsJSON := "{}"
	if len(attrs) > 0 {
		b, err := json.Marshal(attrs)
		if err != nil {
			t.logger.Warn("encoding telemetry attrs failed", "event", event, "error", err)
		} else {
			attrsJSON = string(b)
		}
	}

	e := storage.Event{
		ID:        uuid.New().String(),
		Name:      event,
		AttrsJSON: attrsJSON,
	}
	if err := t.store.EnqueueEvent(e); err != nil {
		t.logger.Warn("enqueueing telemetry event failed", "event", event, "error", err)
	}
}
