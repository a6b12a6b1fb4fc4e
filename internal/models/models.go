// Package models defines the core data structures for WaRelay.
//
// It includes the stored message and registry types shared across modules,
// the WhatsApp Cloud API webhook envelope, and the broadcast envelope
// delivered to registered client callbacks.
package models

import (
	"errors"
	"time"
)

// MessageType classifies a stored message.
type MessageType string

const (
	// MessageTypeMessage is a regular inbound or operator-sent message.
	MessageTypeMessage MessageType = "message"
	// MessageTypeAIReply is a message authored by the AI reply engine.
	MessageTypeAIReply MessageType = "ai_reply"
)

// MessageStatus is the delivery status reported by the vendor for an
// outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// WebhookObject is the top-level object tag the vendor sets on webhook
// deliveries for WhatsApp business accounts. Payloads with any other
// object tag are ignored.
const WebhookObject = "whatsapp_business_account"

// Validation errors shared across modules.
var (
	ErrEmptyClientID    = errors.New("clientId cannot be empty")
	ErrEmptyCallbackURL = errors.New("callbackUrl cannot be empty")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
)

// StoredMessage is one entry in a contact's history sequence.
// Timestamp carries the vendor's value verbatim (epoch seconds as a
// string for webhook events). ReceivedAt is the local arrival time and
// never leaves the process; it only backs the AI recency window.
type StoredMessage struct {
	MessageID       string        `json:"messageId"`
	From            string        `json:"from"`
	To              string        `json:"to,omitempty"`
	Text            string        `json:"text"`
	Timestamp       string        `json:"timestamp"`
	Type            MessageType   `json:"type"`
	IsFromMe        bool          `json:"isFromMe"`
	IsAIReply       bool          `json:"isAIReply"`
	Status          MessageStatus `json:"status,omitempty"`
	StatusTimestamp string        `json:"statusTimestamp,omitempty"`
	AIStatus        string        `json:"aiStatus,omitempty"`
	ReceivedAt      time.Time     `json:"-"`
}

// RegisteredClient is one entry in the callback registry.
type RegisteredClient struct {
	ClientID     string    `json:"clientId"`
	CallbackURL  string    `json:"callbackUrl"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ConversationSummary describes one contact with at least one stored
// message, derived from the last element of the contact's sequence.
type ConversationSummary struct {
	ContactID       string `json:"contactId"`
	LastMessageText string `json:"lastMessageText"`
	LastTimestamp   string `json:"lastTimestamp"`
	MessageCount    int    `json:"messageCount"`
}

// StatusUpdate is the normalized form of a vendor status event, fanned
// out to clients whether or not the target message was found locally.
type StatusUpdate struct {
	MessageID   string        `json:"messageId"`
	Status      MessageStatus `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipientId,omitempty"`
}

// Envelope types for client callback deliveries.
const (
	EnvelopeTypeMessage = "message"
	EnvelopeTypeStatus  = "status"
)

// BroadcastEnvelope is the wire body POSTed to each registered client
// callback. It is constructed per fan-out and never persisted.
type BroadcastEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// NewMessageEnvelope wraps a stored message for fan-out.
func NewMessageEnvelope(msg StoredMessage) BroadcastEnvelope {
	return BroadcastEnvelope{
		Type:      EnvelopeTypeMessage,
		Data:      msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewStatusEnvelope wraps a status update for fan-out.
func NewStatusEnvelope(upd StatusUpdate) BroadcastEnvelope {
	return BroadcastEnvelope{
		Type:      EnvelopeTypeStatus,
		Data:      upd,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
