package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/broadcast"
	"github.com/ChatDeskID/WaRelay/internal/dedup"
	"github.com/ChatDeskID/WaRelay/internal/models"
	"github.com/ChatDeskID/WaRelay/internal/processor"
	"github.com/ChatDeskID/WaRelay/internal/registry"
	"github.com/ChatDeskID/WaRelay/internal/store"
	"github.com/ChatDeskID/WaRelay/internal/testutil"
	"github.com/ChatDeskID/WaRelay/internal/whatsapp"
)

const testVerifyToken = "test-verify-token"

type testServer struct {
	server   *Server
	registry *registry.Registry
	store    *store.InMemoryStore
	sender   *whatsapp.MockClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := registry.New()
	st := store.NewInMemoryStore()
	dd := dedup.New()
	t.Cleanup(dd.Close)
	sender := whatsapp.NewMockClient()
	bc := broadcast.New(reg, broadcast.WithDeliveryTimeout(500*time.Millisecond))
	proc := processor.New(st, dd, bc, sender, nil, "9001")
	srv := NewServer(reg, st, dd, proc, sender, WithVerifyToken(testVerifyToken))
	return &testServer{server: srv, registry: reg, store: st, sender: sender}
}

// envelopeRecorder is an httptest callback target that captures
// broadcast envelopes.
type envelopeRecorder struct {
	mu        sync.Mutex
	envelopes []models.BroadcastEnvelope
	srv       *httptest.Server
}

func newEnvelopeRecorder(t *testing.T) *envelopeRecorder {
	t.Helper()
	rec := &envelopeRecorder{}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env models.BroadcastEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("recorder: bad envelope: %v", err)
		}
		rec.mu.Lock()
		rec.envelopes = append(rec.envelopes, env)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (r *envelopeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

func textWebhookBody(from, messageID, text string) map[string]interface{} {
	return map[string]interface{}{
		"object": models.WebhookObject,
		"entry": []map[string]interface{}{{
			"id": "entry-1",
			"changes": []map[string]interface{}{{
				"field": "messages",
				"value": map[string]interface{}{
					"messaging_product": "whatsapp",
					"metadata":          map[string]interface{}{"phone_number_id": "9001"},
					"messages": []map[string]interface{}{{
						"from":      from,
						"id":        messageID,
						"timestamp": "1717000000",
						"type":      "text",
						"text":      map[string]interface{}{"body": text},
					}},
				},
			}},
		}},
	}
}

func TestWebhookVerification(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=challenge-42", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "verification")
	if rr.Body.String() != "challenge-42" {
		t.Errorf("expected challenge echo, got %q", rr.Body.String())
	}
}

func TestWebhookVerificationWrongToken(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=c", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "wrong token")
}

func TestWebhookVerificationWrongMode(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodGet,
		"/webhook?hub.mode=unsubscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=c", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "wrong mode")
}

func TestWebhookVerificationNoConfiguredToken(t *testing.T) {
	reg := registry.New()
	st := store.NewInMemoryStore()
	dd := dedup.New()
	t.Cleanup(dd.Close)
	sender := whatsapp.NewMockClient()
	proc := processor.New(st, dd, broadcast.New(reg), sender, nil, "9001")
	srv := NewServer(reg, st, dd, proc, sender)

	req := testutil.CreateHTTPRequest(t, http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=c", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	// An empty configured token never matches, even an empty presented one.
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "unconfigured token")
}

func TestWebhookAcknowledgedImmediately(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook",
		textWebhookBody("62811111", "wamid.ack-1", "halo"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook post")
	if rr.Body.String() != "EVENT_RECEIVED" {
		t.Errorf("expected EVENT_RECEIVED body, got %q", rr.Body.String())
	}

	// Processing happens after the acknowledgement.
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return ts.store.HasMessage("62811111", "wamid.ack-1")
	})
}

func TestWebhookInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed webhook")
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()
	body := textWebhookBody("62822222", "wamid.dup-1", "ping")

	for i := 0; i < 2; i++ {
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook", body)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "duplicate delivery")
	}

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return ts.store.HasMessage("62822222", "wamid.dup-1")
	})
	// Give the second goroutine a moment to run; it must not append.
	time.Sleep(50 * time.Millisecond)
	if got := len(ts.store.History("62822222")); got != 1 {
		t.Errorf("expected 1 stored message after duplicate delivery, got %d", got)
	}
}

func TestWebhookBroadcastToRegisteredClient(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()
	rec := newEnvelopeRecorder(t)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/register",
		map[string]string{"clientId": "dash-1", "callbackUrl": rec.srv.URL})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "register")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook",
		textWebhookBody("62833333", "wamid.bc-1", "order status?"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook post")

	testutil.WaitUntil(t, 2*time.Second, func() bool { return rec.count() >= 1 })

	rec.mu.Lock()
	env := rec.envelopes[0]
	rec.mu.Unlock()
	if env.Type != models.EnvelopeTypeMessage {
		t.Errorf("expected %q envelope, got %q", models.EnvelopeTypeMessage, env.Type)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/register",
		map[string]string{"clientId": "", "callbackUrl": "http://localhost:9/cb"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty clientId")
	testutil.AssertSuccessResponse(t, rr, false)

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/api/register",
		map[string]string{"clientId": "c1", "callbackUrl": ""})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty callbackUrl")
}

func TestRegisterInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader("nope"))
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid register JSON")
}

func TestUnregister(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()
	if _, err := ts.registry.Register("c1", "http://localhost:9/cb"); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/unregister",
		map[string]string{"clientId": "c1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "unregister")
	testutil.AssertSuccessResponse(t, rr, true)

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/api/unregister",
		map[string]string{"clientId": "c1"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unregister unknown")
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send-message",
		map[string]string{"to": "62844444", "message": "We ship tomorrow", "clientId": "dash-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send-message")
	resp := testutil.AssertSuccessResponse(t, rr, true)
	if id, _ := resp["messageId"].(string); id == "" {
		t.Error("expected a messageId in the response")
	}

	sent := ts.sender.Sent()
	if len(sent) != 1 || sent[0].To != "62844444" {
		t.Errorf("expected one vendor send to 62844444, got %+v", sent)
	}
	history := ts.store.History("62844444")
	if len(history) != 1 || !history[0].IsFromMe {
		t.Errorf("expected one outbound message in history, got %+v", history)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send-message",
		map[string]string{"to": "", "message": "hello"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing to")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/api/send-message",
		map[string]string{"to": "62844444", "message": ""})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing message")
}

func TestMessagesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	handler := ts.server.Handler()
	ts.store.Append("62855555", models.StoredMessage{
		MessageID: "wamid.h-1",
		From:      "62855555",
		Text:      "hi",
		Type:      models.MessageTypeMessage,
	})

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/messages/62855555", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "messages")

	var resp messagesResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PhoneNumber != "62855555" || len(resp.Messages) != 1 {
		t.Errorf("unexpected messages response: %+v", resp)
	}
}

func TestMessagesEndpointUnknownContact(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/messages/000", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "unknown contact")
	// The messages field must be an empty array, not null.
	if !strings.Contains(rr.Body.String(), `"messages":[]`) {
		t.Errorf("expected empty messages array, got %s", rr.Body.String())
	}
}

func TestConversationsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.store.Append("62866666", models.StoredMessage{MessageID: "wamid.c-1", Text: "first"})
	ts.store.Append("62866666", models.StoredMessage{MessageID: "wamid.c-2", Text: "second"})

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/conversations", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "conversations")

	var resp conversationsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(resp.Conversations))
	}
	c := resp.Conversations[0]
	if c.ContactID != "62866666" || c.MessageCount != 2 || c.LastMessageText != "second" {
		t.Errorf("unexpected summary: %+v", c)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.registry.Register("c1", "http://localhost:9/cb"); err != nil {
		t.Fatalf("register: %v", err)
	}
	ts.store.Append("62877777", models.StoredMessage{MessageID: "wamid.s-1", Text: "hey"})

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "status")

	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "running" || resp.ConnectedClients != 1 || resp.TotalConversations != 1 {
		t.Errorf("unexpected status response: %+v", resp)
	}
	if !resp.WhatsAppConfigured {
		t.Error("mock sender should report configured")
	}
	if resp.Timestamp == "" {
		t.Error("expected a timestamp")
	}
}

func TestClientsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.registry.Register("c1", "http://localhost:9/cb"); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/clients", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "clients")

	var resp clientsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Clients) != 1 || resp.Clients[0].ClientID != "c1" {
		t.Errorf("unexpected clients response: %+v", resp)
	}
}

func TestCleanupClientsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.registry.Register("c1", "http://localhost:9/a")
	ts.registry.Register("c2", "http://localhost:9/b")

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/cleanup-clients", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "cleanup")

	var resp cleanupClientsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Remaining != 0 || ts.registry.Count() != 0 {
		t.Errorf("expected empty registry after cleanup, got %d", ts.registry.Count())
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	if !strings.Contains(rr.Body.String(), "healthy") {
		t.Errorf("expected healthy status, got %s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/api/register", nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET on register")
}
