// Package agent talks to the remote conversational webhook backend. The
// backend is an opaque request/response service: every transport-level
// failure (network error, timeout, non-2xx status, malformed body) is
// normalized to ErrUnavailable; the raw cause goes to the log, never to the
// end user.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20 // 1MB
)

// ErrUnavailable is the single internal failure signal for a broken
// exchange with the backend.
var ErrUnavailable = errors.New("assistant backend unavailable")

// replyFields are the accepted reply field names, tried in order.
var replyFields = []string{"output", "reply", "text"}

// Client sends assistant exchanges to the webhook backend.
type Client struct {
	webhookURL string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given webhook URL. A non-positive
// timeout falls back to the 10s default.
func NewClient(webhookURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// Send dispatches one exchange under the client's timeout and returns the
// normalized reply.
func (c *Client) Send(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("assistant backend request failed", "persona", req.Persona, "error", err)
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("assistant backend returned error status", "persona", req.Persona, "status", resp.StatusCode)
		return Reply{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Warn("reading assistant backend response failed", "persona", req.Persona, "error", err)
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, err := parseReply(data)
	if err != nil {
		c.logger.Warn("assistant backend response is malformed", "persona", req.Persona, "error", err)
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return reply, nil
}

// parseReply extracts the reply string as a tagged parse attempt over the
// ordered field candidates, plus the optional media attachments.
func parseReply(data []byte) (Reply, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reply{}, fmt.Errorf("decoding response body: %w", err)
	}

	var reply Reply
	for _, field := range replyFields {
		if v, ok := raw[field]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				reply.Output = s
				reply.Recognized = true
				break
			}
		}
	}

	if v, ok := raw["image"]; ok {
		json.Unmarshal(v, &reply.Image)
	}
	if v, ok := raw["videoUrl"]; ok {
		json.Unmarshal(v, &reply.VideoURL)
	}
	return reply, nil
}
