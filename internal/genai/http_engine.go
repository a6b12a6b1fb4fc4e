package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds each reply-engine call. Timed-out calls
// fail only the event being processed and are not retried automatically.
const DefaultRequestTimeout = 30 * time.Second

// replyRequest is the backend request body.
type replyRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// ReplyPayload is the backend response. The backend answers with either
// a single reply field or a sequence of typed bubbles.
type ReplyPayload struct {
	Reply   string   `json:"reply,omitempty"`
	Bubbles []Bubble `json:"bubbles,omitempty"`
	Status  string   `json:"status,omitempty"`
}

// Bubble is one segment of a multi-part backend reply.
type Bubble struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractReplyText flattens a backend payload into the text to send:
// the reply field verbatim when present, otherwise the text-typed
// bubbles joined with newlines in array order.
func ExtractReplyText(p ReplyPayload) string {
	if p.Reply != "" {
		return p.Reply
	}
	parts := make([]string, 0, len(p.Bubbles))
	for _, b := range p.Bubbles {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HTTPEngineOpts holds configuration for the HTTP reply engine.
type HTTPEngineOpts struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPEngineOption configures the HTTP reply engine.
type HTTPEngineOption func(*HTTPEngineOpts)

// WithRequestTimeout overrides the per-call timeout.
func WithRequestTimeout(d time.Duration) HTTPEngineOption {
	return func(o *HTTPEngineOpts) { o.Timeout = d }
}

// WithEngineHTTPClient replaces the HTTP client used for backend calls.
func WithEngineHTTPClient(c *http.Client) HTTPEngineOption {
	return func(o *HTTPEngineOpts) { o.HTTPClient = c }
}

// HTTPEngine calls the dedicated reply backend.
type HTTPEngine struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// Compile-time check that HTTPEngine implements ReplyEngine.
var _ ReplyEngine = (*HTTPEngine)(nil)

// NewHTTPEngine creates an engine for the given backend URL.
func NewHTTPEngine(url string, opts ...HTTPEngineOption) *HTTPEngine {
	cfg := HTTPEngineOpts{Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEngine{url: url, client: client, timeout: cfg.Timeout}
}

// Reply posts the contact id and message text to the backend and
// extracts the reply text from the response.
func (e *HTTPEngine) Reply(ctx context.Context, userID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(replyRequest{UserID: userID, Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal reply request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("HTTPEngine.Reply: calling reply backend", "user_id", userID, "text_length", len(text))
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reply backend call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reply response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("reply backend returned %d: %s", resp.StatusCode, string(raw))
	}

	var payload ReplyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode reply response: %w", err)
	}
	reply := ExtractReplyText(payload)
	slog.Debug("HTTPEngine.Reply: backend answered", "user_id", userID, "reply_length", len(reply), "status", payload.Status)
	return reply, nil
}
