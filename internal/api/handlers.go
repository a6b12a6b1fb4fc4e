package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChatDeskID/WaRelay/internal/models"
	"github.com/ChatDeskID/WaRelay/internal/registry"
)

// maxWebhookBody bounds webhook reads. The handler reads the body
// directly instead of trusting the Content-Length header, which the
// vendor occasionally omits or gets wrong behind proxies.
const maxWebhookBody = 1 << 20

// verifyWebhookHandler answers the vendor subscription handshake
// (GET /webhook).
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Server.verifyWebhookHandler: webhook verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}
	slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// webhookHandler accepts vendor event deliveries (POST /webhook). The
// delivery is acknowledged immediately; processing continues in a
// background goroutine so AI and broadcast latency never hits the
// vendor's delivery timeout.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("Server.webhookHandler: invalid JSON payload", "error", err, "body_length", len(body))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")

	go s.processor.HandleWebhook(context.Background(), payload)
}

type registerRequest struct {
	ClientID    string `json:"clientId"`
	CallbackURL string `json:"callbackUrl"`
}

type registerResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

// registerHandler handles POST /api/register.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.registerHandler: invalid JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if _, err := s.registry.Register(req.ClientID, req.CallbackURL); err != nil {
		slog.Warn("Server.registerHandler: validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, registerResponse{
		Success:  true,
		ClientID: req.ClientID,
		Message:  "Client registered successfully",
	})
}

type unregisterRequest struct {
	ClientID string `json:"clientId"`
}

type unregisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// unregisterHandler handles POST /api/unregister.
func (s *Server) unregisterHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.unregisterHandler: invalid JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := s.registry.Unregister(req.ClientID); err != nil {
		if errors.Is(err, registry.ErrClientNotFound) {
			writeError(w, http.StatusNotFound, "Client not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, unregisterResponse{
		Success: true,
		Message: "Client unregistered successfully",
	})
}

type sendMessageRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	ClientID string `json:"clientId"`
}

type sendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// sendMessageHandler handles POST /api/send-message: an operator send
// that bypasses AI processing.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: invalid JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: to, message")
		return
	}

	messageID, err := s.processor.SendOperatorMessage(r.Context(), req.To, req.Message)
	if err != nil {
		slog.Error("Server.sendMessageHandler: send failed", "error", err, "to", req.To, "clientId", req.ClientID)
		writeErrorWithDetails(w, http.StatusInternalServerError, "Failed to send message", err.Error())
		return
	}
	slog.Info("Server.sendMessageHandler: message sent", "to", req.To, "messageId", messageID, "clientId", req.ClientID)
	writeJSONResponse(w, http.StatusOK, sendMessageResponse{
		Success:   true,
		MessageID: messageID,
		Message:   "Message sent",
	})
}

type messagesResponse struct {
	Success     bool                   `json:"success"`
	PhoneNumber string                 `json:"phoneNumber"`
	Messages    []models.StoredMessage `json:"messages"`
}

// messagesHandler handles GET /api/messages/{phoneNumber}.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	phoneNumber := mux.Vars(r)["phoneNumber"]
	history := s.store.History(phoneNumber)
	writeJSONResponse(w, http.StatusOK, messagesResponse{
		Success:     true,
		PhoneNumber: phoneNumber,
		Messages:    history,
	})
}

type conversationsResponse struct {
	Success       bool                         `json:"success"`
	Conversations []models.ConversationSummary `json:"conversations"`
}

// conversationsHandler handles GET /api/conversations.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, conversationsResponse{
		Success:       true,
		Conversations: s.store.ConversationSummaries(),
	})
}

type statusResponse struct {
	Success                bool   `json:"success"`
	Status                 string `json:"status"`
	ConnectedClients       int    `json:"connectedClients"`
	TotalConversations     int    `json:"totalConversations"`
	ProcessedMessagesCount int    `json:"processedMessagesCount"`
	WhatsAppConfigured     bool   `json:"whatsappConfigured"`
	Timestamp              string `json:"timestamp"`
}

// statusHandler handles GET /api/status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, statusResponse{
		Success:                true,
		Status:                 "running",
		ConnectedClients:       s.registry.Count(),
		TotalConversations:     s.store.TotalConversations(),
		ProcessedMessagesCount: s.dedup.Len(),
		WhatsAppConfigured:     s.sender.Configured(),
		Timestamp:              time.Now().UTC().Format(time.RFC3339),
	})
}

type clientsResponse struct {
	Success bool                      `json:"success"`
	Count   int                       `json:"count"`
	Clients []models.RegisteredClient `json:"clients"`
}

// clientsHandler handles GET /api/clients (diagnostic).
func (s *Server) clientsHandler(w http.ResponseWriter, r *http.Request) {
	clients := s.registry.List()
	writeJSONResponse(w, http.StatusOK, clientsResponse{
		Success: true,
		Count:   len(clients),
		Clients: clients,
	})
}

type cleanupClientsResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

// cleanupClientsHandler handles POST /api/cleanup-clients: clears the
// registry entirely.
func (s *Server) cleanupClientsHandler(w http.ResponseWriter, r *http.Request) {
	removed := s.registry.Clear()
	slog.Info("Server.cleanupClientsHandler: registry cleared", "removed", removed)
	writeJSONResponse(w, http.StatusOK, cleanupClientsResponse{
		Success:   true,
		Message:   "All clients removed",
		Remaining: s.registry.Count(),
	})
}

// healthHandler provides a liveness endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
