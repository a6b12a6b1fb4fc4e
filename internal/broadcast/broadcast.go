// Package broadcast fans out normalized events to registered client
// callbacks.
//
// Every delivery is attempted independently with a short timeout, so one
// dead or slow client never blocks the others. Clients whose callback is
// gone for good (connection refused, 404/410) are evicted from the
// registry after the full fan-out pass completes; transient failures
// (timeout, 5xx) keep the client and the next event simply tries again.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
	"github.com/ChatDeskID/WaRelay/internal/registry"
)

// DefaultDeliveryTimeout bounds each callback delivery.
const DefaultDeliveryTimeout = 3 * time.Second

// Opts holds configuration for the broadcaster.
type Opts struct {
	DeliveryTimeout time.Duration
	HTTPClient      *http.Client
}

// Option configures the broadcaster.
type Option func(*Opts)

// WithDeliveryTimeout overrides the per-delivery timeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DeliveryTimeout = d }
}

// WithHTTPClient replaces the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Broadcaster delivers envelopes to every registered callback.
type Broadcaster struct {
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
}

// New creates a broadcaster over the given registry.
func New(reg *registry.Registry, opts ...Option) *Broadcaster {
	cfg := Opts{DeliveryTimeout: DefaultDeliveryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Broadcaster{
		registry: reg,
		client:   client,
		timeout:  cfg.DeliveryTimeout,
	}
}

// Broadcast delivers the envelope to every registered client and blocks
// until the pass completes. Terminal failures are collected during the
// pass and applied to the registry afterwards, so the client list is
// never mutated while it is being iterated.
func (b *Broadcaster) Broadcast(ctx context.Context, env models.BroadcastEnvelope) {
	clients := b.registry.List()
	if len(clients) == 0 {
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		slog.Error("Broadcaster.Broadcast: failed to marshal envelope", "error", err, "type", env.Type)
		return
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dead []string
	)
	for _, client := range clients {
		wg.Add(1)
		go func(c models.RegisteredClient) {
			defer wg.Done()
			if err := b.deliver(ctx, c, body); err != nil {
				if isTerminal(err) {
					slog.Warn("Broadcaster.Broadcast: terminal delivery failure, scheduling eviction", "clientId", c.ClientID, "callback", c.CallbackURL, "error", err)
					mu.Lock()
					dead = append(dead, c.ClientID)
					mu.Unlock()
					return
				}
				slog.Warn("Broadcaster.Broadcast: transient delivery failure, keeping client", "clientId", c.ClientID, "error", err)
				return
			}
			slog.Debug("Broadcaster.Broadcast: delivered", "clientId", c.ClientID, "type", env.Type)
		}(client)
	}
	wg.Wait()

	for _, clientID := range dead {
		b.registry.Evict(clientID)
	}
}

// deliveryError carries the failure classification for one delivery.
type deliveryError struct {
	terminal bool
	cause    error
}

func (e *deliveryError) Error() string { return e.cause.Error() }
func (e *deliveryError) Unwrap() error { return e.cause }

func isTerminal(err error) bool {
	var de *deliveryError
	return errors.As(err, &de) && de.terminal
}

// deliver POSTs the envelope to the client's callback with the bounded
// timeout and classifies the failure.
func (b *Broadcaster) deliver(ctx context.Context, client models.RegisteredClient, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return &deliveryError{terminal: true, cause: fmt.Errorf("build callback request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// Connection refused means the callback endpoint is gone;
		// timeouts and other transport errors are treated as transient.
		if errors.Is(err, syscall.ECONNREFUSED) {
			return &deliveryError{terminal: true, cause: err}
		}
		return &deliveryError{terminal: false, cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &deliveryError{terminal: true, cause: fmt.Errorf("callback returned %d", resp.StatusCode)}
	default:
		return &deliveryError{terminal: false, cause: fmt.Errorf("callback returned %d", resp.StatusCode)}
	}
}
