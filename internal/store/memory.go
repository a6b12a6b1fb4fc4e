package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
)

// Compile-time check that InMemoryStore implements EventStore.
var _ EventStore = (*InMemoryStore)(nil)

// InMemoryStore keeps per-contact sequences in a map guarded by a single
// RWMutex. Appends are short critical sections; the slow outbound work
// (AI, vendor send, broadcast) never happens under this lock.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.StoredMessage
}

// NewInMemoryStore creates an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string][]models.StoredMessage)}
}

// Append adds a message to the contact's sequence in arrival order.
func (s *InMemoryStore) Append(contactID string, msg models.StoredMessage) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	s.mu.Lock()
	s.messages[contactID] = append(s.messages[contactID], msg)
	count := len(s.messages[contactID])
	s.mu.Unlock()
	slog.Debug("InMemoryStore.Append: message stored", "contact", contactID, "messageId", msg.MessageID, "type", msg.Type, "sequence_len", count)
}

// UpdateStatus mutates the first message matching messageId in place.
// Last write wins; applying the same update twice is a no-op for the
// resulting state.
func (s *InMemoryStore) UpdateStatus(messageID string, status models.MessageStatus, statusTimestamp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for contactID, seq := range s.messages {
		for i := range seq {
			if seq[i].MessageID == messageID {
				seq[i].Status = status
				seq[i].StatusTimestamp = statusTimestamp
				slog.Debug("InMemoryStore.UpdateStatus: status applied", "contact", contactID, "messageId", messageID, "status", status)
				return true
			}
		}
	}
	return false
}

// History returns a copy of the contact's sequence as stored.
func (s *InMemoryStore) History(contactID string) []models.StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.messages[contactID]
	out := make([]models.StoredMessage, len(seq))
	copy(out, seq)
	return out
}

// HasMessage reports whether the contact already stored messageId.
func (s *InMemoryStore) HasMessage(contactID, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[contactID] {
		if m.MessageID == messageID {
			return true
		}
	}
	return false
}

// HasRecentAIReply reports whether the same AI reply text was stored for
// the contact within the window.
func (s *InMemoryStore) HasRecentAIReply(contactID, text string, window time.Duration) bool {
	cutoff := time.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.messages[contactID]
	for i := len(seq) - 1; i >= 0; i-- {
		m := seq[i]
		if m.ReceivedAt.Before(cutoff) {
			return false
		}
		if m.IsAIReply && m.Text == text {
			return true
		}
	}
	return false
}

// ConversationSummaries derives one summary per contact from the last
// stored element.
func (s *InMemoryStore) ConversationSummaries() []models.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationSummary, 0, len(s.messages))
	for contactID, seq := range s.messages {
		if len(seq) == 0 {
			continue
		}
		last := seq[len(seq)-1]
		out = append(out, models.ConversationSummary{
			ContactID:       contactID,
			LastMessageText: last.Text,
			LastTimestamp:   last.Timestamp,
			MessageCount:    len(seq),
		})
	}
	return out
}

// TotalConversations returns the number of contacts with messages.
func (s *InMemoryStore) TotalConversations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// TotalMessages returns the number of stored messages.
func (s *InMemoryStore) TotalMessages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, seq := range s.messages {
		total += len(seq)
	}
	return total
}
