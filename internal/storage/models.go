package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Transcript is one archived conversation message. The archive is additive:
// rows are inserted when messages land and never updated or deleted by the
// application.
type Transcript struct {
	ID          string
	Persona     string
	Role        string
	Content     string
	AudioRef    string
	RelatedJSON string // related resources stored as JSON text
	CreatedAt   time.Time
}

// Event is a queued telemetry event awaiting delivery to the sink.
type Event struct {
	ID          string
	Name        string
	AttrsJSON   string // attributes stored as JSON text
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
