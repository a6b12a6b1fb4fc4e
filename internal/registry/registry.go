// Package registry maintains the set of registered client callbacks.
//
// The registry is the exclusive owner of the clientId -> callback map.
// Registration is a permissive upsert: re-registering an existing
// clientId silently replaces the callback URL (logged, not errored).
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
)

// ErrClientNotFound is returned by Unregister for unknown client ids.
var ErrClientNotFound = errors.New("client not found")

// Registry is safe for concurrent register/evict from request handlers
// and broadcast passes.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]models.RegisteredClient
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]models.RegisteredClient)}
}

// Register upserts a client entry. Re-registration overwrites the
// existing callback URL; both URLs are logged so a silent hijack is at
// least observable.
func (r *Registry) Register(clientID, callbackURL string) (models.RegisteredClient, error) {
	if clientID == "" {
		return models.RegisteredClient{}, models.ErrEmptyClientID
	}
	if callbackURL == "" {
		return models.RegisteredClient{}, models.ErrEmptyCallbackURL
	}

	client := models.RegisteredClient{
		ClientID:     clientID,
		CallbackURL:  callbackURL,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	existing, existed := r.clients[clientID]
	r.clients[clientID] = client
	r.mu.Unlock()

	if existed {
		slog.Info("Registry.Register: client re-registered", "clientId", clientID, "old_callback", existing.CallbackURL, "new_callback", callbackURL)
	} else {
		slog.Info("Registry.Register: client registered", "clientId", clientID, "callback", callbackURL)
	}
	return client, nil
}

// Unregister removes a client entry. Unknown ids are a reported error,
// surfaced by the gateway as 404.
func (r *Registry) Unregister(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[clientID]; !exists {
		return ErrClientNotFound
	}
	delete(r.clients, clientID)
	slog.Info("Registry.Unregister: client removed", "clientId", clientID)
	return nil
}

// List returns a snapshot of all registered clients.
func (r *Registry) List() []models.RegisteredClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RegisteredClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Evict removes a client after a terminal delivery failure. Missing
// entries are a no-op so batched evictions stay idempotent.
func (r *Registry) Evict(clientID string) {
	r.mu.Lock()
	_, existed := r.clients[clientID]
	delete(r.clients, clientID)
	r.mu.Unlock()
	if existed {
		slog.Warn("Registry.Evict: dead client removed", "clientId", clientID)
	}
}

// Clear removes every entry and returns the number removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	removed := len(r.clients)
	r.clients = make(map[string]models.RegisteredClient)
	r.mu.Unlock()
	slog.Info("Registry.Clear: registry emptied", "removed", removed)
	return removed
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
