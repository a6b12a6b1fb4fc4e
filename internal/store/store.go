// Package store provides the per-contact message history for WaRelay.
//
// The relay's source of truth is in-memory and process-lifetime: each
// contact owns an append-only ordered sequence of messages, and only a
// later status update may mutate a stored entry in place.
package store

import (
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
)

// EventStore is the history abstraction consumed by the processor and
// the HTTP gateway.
type EventStore interface {
	// Append adds a message to the contact's sequence, creating the
	// sequence if absent. Insertion order is arrival order; the store
	// never re-sorts by timestamp.
	Append(contactID string, msg models.StoredMessage)

	// UpdateStatus finds the first message with the given messageId
	// across all contacts and mutates its status fields in place.
	// Returns false if no such message exists.
	UpdateStatus(messageID string, status models.MessageStatus, statusTimestamp string) bool

	// History returns the contact's sequence as stored.
	History(contactID string) []models.StoredMessage

	// HasMessage reports whether the contact's sequence already contains
	// a message with the given messageId.
	HasMessage(contactID, messageID string) bool

	// HasRecentAIReply reports whether an AI-authored message with the
	// exact same text was appended to the contact's sequence within the
	// given window.
	HasRecentAIReply(contactID, text string, window time.Duration) bool

	// ConversationSummaries returns one summary per contact with
	// messages, derived from the last element of each sequence.
	ConversationSummaries() []models.ConversationSummary

	// TotalConversations returns the number of contacts with messages.
	TotalConversations() int

	// TotalMessages returns the number of stored messages across all
	// contacts.
	TotalMessages() int
}
