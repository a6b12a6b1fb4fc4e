package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
	"github.com/ChatDeskID/WaRelay/internal/registry"
)

func newCountingServer(t *testing.T, status int, count *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env models.BroadcastEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("callback received invalid envelope: %v", err)
		}
		count.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBroadcastDeliversToAllClients(t *testing.T) {
	var a, c atomic.Int64
	srvA := newCountingServer(t, http.StatusOK, &a)
	srvC := newCountingServer(t, http.StatusOK, &c)

	reg := registry.New()
	reg.Register("a", srvA.URL)
	reg.Register("c", srvC.URL)

	b := New(reg)
	b.Broadcast(context.Background(), models.NewMessageEnvelope(models.StoredMessage{MessageID: "wamid.AAA", Text: "halo"}))

	if a.Load() != 1 || c.Load() != 1 {
		t.Errorf("expected one delivery each, got a=%d c=%d", a.Load(), c.Load())
	}
	if reg.Count() != 2 {
		t.Errorf("healthy clients must be kept, got %d", reg.Count())
	}
}

func TestBroadcastEvictsRefusedClientAndDeliversToOthers(t *testing.T) {
	var a, c atomic.Int64
	srvA := newCountingServer(t, http.StatusOK, &a)
	srvC := newCountingServer(t, http.StatusOK, &c)

	// Closed server: connections to its address are refused.
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := srvB.URL
	srvB.Close()

	reg := registry.New()
	reg.Register("a", srvA.URL)
	reg.Register("b", deadURL)
	reg.Register("c", srvC.URL)

	b := New(reg)
	b.Broadcast(context.Background(), models.NewMessageEnvelope(models.StoredMessage{MessageID: "wamid.AAA"}))

	if a.Load() != 1 || c.Load() != 1 {
		t.Errorf("failure of one client must not block others, got a=%d c=%d", a.Load(), c.Load())
	}
	clients := reg.List()
	if len(clients) != 2 {
		t.Fatalf("dead client must be evicted, got %d clients", len(clients))
	}
	for _, cl := range clients {
		if cl.ClientID == "b" {
			t.Error("client b still registered after terminal failure")
		}
	}
}

func TestBroadcastEvictsGoneCallback(t *testing.T) {
	var hits atomic.Int64
	srv := newCountingServer(t, http.StatusNotFound, &hits)

	reg := registry.New()
	reg.Register("gone", srv.URL)

	b := New(reg)
	b.Broadcast(context.Background(), models.NewStatusEnvelope(models.StatusUpdate{MessageID: "wamid.AAA", Status: models.MessageStatusRead}))

	if reg.Count() != 0 {
		t.Error("404 callback must be evicted")
	}
}

func TestBroadcastKeepsClientOnServerError(t *testing.T) {
	var hits atomic.Int64
	srv := newCountingServer(t, http.StatusInternalServerError, &hits)

	reg := registry.New()
	reg.Register("flaky", srv.URL)

	b := New(reg)
	b.Broadcast(context.Background(), models.NewMessageEnvelope(models.StoredMessage{MessageID: "wamid.AAA"}))

	if reg.Count() != 1 {
		t.Error("5xx is transient, client must be kept")
	}
}

func TestBroadcastKeepsClientOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	reg := registry.New()
	reg.Register("slow", srv.URL)

	b := New(reg, WithDeliveryTimeout(30*time.Millisecond))
	b.Broadcast(context.Background(), models.NewMessageEnvelope(models.StoredMessage{MessageID: "wamid.AAA"}))

	if reg.Count() != 1 {
		t.Error("timeout is transient, client must be kept")
	}
}

func TestBroadcastNoClientsIsNoop(t *testing.T) {
	b := New(registry.New())
	// Must return without panicking or blocking.
	b.Broadcast(context.Background(), models.NewMessageEnvelope(models.StoredMessage{MessageID: "wamid.AAA"}))
}
