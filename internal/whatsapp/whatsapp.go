// Package whatsapp wraps the WhatsApp Cloud API for WaRelay.
//
// It provides the outbound send-message call against the Graph API and a
// mock implementation for tests. The relay keeps running without vendor
// credentials; sends then fail with a configuration error while the
// inbound relay path stays fully functional.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAPIBase is the Graph API base URL used when none is configured.
const DefaultAPIBase = "https://graph.facebook.com/v19.0"

// DefaultSendTimeout bounds each outbound vendor call.
const DefaultSendTimeout = 10 * time.Second

// Sender is the outbound messaging abstraction consumed by the
// processor and the gateway.
type Sender interface {
	// SendText sends a text message and returns the vendor message id,
	// or a locally generated fallback id when the vendor omits one.
	SendText(ctx context.Context, to, body string) (string, error)

	// Configured reports whether vendor credentials are present.
	Configured() bool
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	AccessToken   string
	PhoneNumberID string
	APIBase       string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the business phone-number-id used in the send path.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAPIBase overrides the Graph API base URL.
func WithAPIBase(base string) Option {
	return func(o *Opts) { o.APIBase = base }
}

// WithHTTPClient replaces the HTTP client used for vendor calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the WhatsApp Cloud API.
type Client struct {
	token         string
	phoneNumberID string
	apiBase       string
	client        *http.Client
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Cloud API client, falling back to environment
// variables for options that were not provided. Missing credentials do
// not fail construction; Configured reports them.
func NewClient(opts ...Option) *Client {
	cfg := Opts{APIBase: DefaultAPIBase}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	}
	if cfg.PhoneNumberID == "" {
		cfg.PhoneNumberID = os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultSendTimeout}
	}
	slog.Debug("WhatsApp client config loaded",
		"token_set", cfg.AccessToken != "",
		"phone_number_id_set", cfg.PhoneNumberID != "",
		"api_base", cfg.APIBase)
	return &Client{
		token:         cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		apiBase:       cfg.APIBase,
		client:        cfg.HTTPClient,
	}
}

// Configured reports whether the vendor send path is usable.
func (c *Client) Configured() bool {
	return c.token != "" && c.phoneNumberID != ""
}

// sendRequest is the Cloud API send-message body.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// sendResponse is the subset of the Cloud API response the relay reads.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message via the Cloud API and returns the vendor
// message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("whatsapp client not configured")
	}
	if to == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("WhatsApp SendText invoked", "to", to, "body_length", len(body))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", to, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("vendor send failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		fallback := "local-" + uuid.NewString()
		slog.Warn("WhatsApp SendText: vendor returned no message id, using fallback", "to", to, "fallback_id", fallback)
		return fallback, nil
	}
	slog.Info("WhatsApp message sent", "to", to, "messageId", parsed.Messages[0].ID)
	return parsed.Messages[0].ID, nil
}

// SentMessage records one send captured by the mock client.
type SentMessage struct {
	To   string
	Body string
}

// MockClient implements Sender without network access. Use it in tests
// instead of NewClient to avoid real vendor calls.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
}

// Compile-time check that MockClient implements Sender.
var _ Sender = (*MockClient)(nil)

// NewMockClient creates a recording mock sender.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return "mock-" + uuid.NewString(), nil
}

func (m *MockClient) Configured() bool { return true }

// Sent returns a snapshot of the messages the mock captured.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
