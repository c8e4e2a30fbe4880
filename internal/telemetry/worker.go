package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oshelest/shopmate/internal/storage"
)

// Worker drains the event queue and delivers events to the HTTP sink.
type Worker struct {
	store   EventStore
	sinkURL string
	client  *http.Client
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker delivering to sinkURL.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store EventStore, sinkURL string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		sinkURL: sinkURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("telemetry worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single event.
// Returns true if an event was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	event, err := w.store.ClaimNextEvent()
	if err != nil {
		return false, fmt.Errorf("claiming event: %w", err)
	}
	if event == nil {
		return false, nil
	}

	if err := w.deliver(ctx, event); err != nil {
		w.logger.Warn("event delivery failed", "event_id", event.ID, "error", err)
		if failErr := w.store.FailEvent(event.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteEvent(event.ID); err != nil {
		return true, fmt.Errorf("completing event %s: %w", event.ID, err)
	}
	return true, nil
}

func (w *Worker) deliver(ctx context.Context, event *storage.Event) error {
	attrs := event.AttrsJSON
	if attrs == "" {
		attrs = "{}"
	}
	payload := map[string]any{
		"id":        event.ID,
		"name":      event.Name,
		"attrs":     json.RawMessage(attrs),
		"createdAt": event.CreatedAt.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.sinkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
