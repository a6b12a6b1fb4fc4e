package store

import (
	"testing"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/models"
)

func TestAppendAndHistoryOrdering(t *testing.T) {
	s := NewInMemoryStore()
	// Timestamps deliberately out of order: storage order must be
	// arrival order, not wall-clock order.
	s.Append("628123", models.StoredMessage{MessageID: "wamid.B", Text: "second", Timestamp: "1700000200", Type: models.MessageTypeMessage})
	s.Append("628123", models.StoredMessage{MessageID: "wamid.A", Text: "first", Timestamp: "1700000100", Type: models.MessageTypeMessage})

	history := s.History("628123")
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].MessageID != "wamid.B" || history[1].MessageID != "wamid.A" {
		t.Errorf("history not in arrival order: %q, %q", history[0].MessageID, history[1].MessageID)
	}
}

func TestHistoryUnknownContact(t *testing.T) {
	s := NewInMemoryStore()
	if got := s.History("nobody"); len(got) != 0 {
		t.Errorf("expected empty history, got %d entries", len(got))
	}
}

func TestUpdateStatusIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	s.Append("628123", models.StoredMessage{MessageID: "wamid.A", Status: models.MessageStatusSent, Type: models.MessageTypeMessage})

	for i := 0; i < 2; i++ {
		if !s.UpdateStatus("wamid.A", models.MessageStatusDelivered, "1700000000") {
			t.Fatalf("update %d: message not found", i)
		}
	}
	history := s.History("628123")
	if len(history) != 1 {
		t.Fatalf("status update must not duplicate messages, got %d", len(history))
	}
	if history[0].Status != models.MessageStatusDelivered || history[0].StatusTimestamp != "1700000000" {
		t.Errorf("status not applied: %+v", history[0])
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	s := NewInMemoryStore()
	if s.UpdateStatus("wamid.MISSING", models.MessageStatusRead, "1") {
		t.Error("expected false for unknown messageId")
	}
}

func TestHasMessage(t *testing.T) {
	s := NewInMemoryStore()
	s.Append("628123", models.StoredMessage{MessageID: "wamid.A"})
	if !s.HasMessage("628123", "wamid.A") {
		t.Error("expected message to be found")
	}
	if s.HasMessage("628123", "wamid.B") {
		t.Error("unexpected match for unknown messageId")
	}
	if s.HasMessage("628999", "wamid.A") {
		t.Error("messageId lookup must be scoped to the contact")
	}
}

func TestHasRecentAIReply(t *testing.T) {
	s := NewInMemoryStore()
	s.Append("628123", models.StoredMessage{
		MessageID:  "wamid.OLD",
		Text:       "Rp 100.000",
		IsAIReply:  true,
		ReceivedAt: time.Now().Add(-2 * time.Minute),
	})
	s.Append("628123", models.StoredMessage{
		MessageID:  "wamid.NEW",
		Text:       "Rp 200.000",
		IsAIReply:  true,
		ReceivedAt: time.Now(),
	})

	if !s.HasRecentAIReply("628123", "Rp 200.000", time.Minute) {
		t.Error("expected recent identical reply to match")
	}
	if s.HasRecentAIReply("628123", "Rp 100.000", time.Minute) {
		t.Error("reply outside the window must not match")
	}
	if s.HasRecentAIReply("628123", "Rp 300.000", time.Minute) {
		t.Error("different text must not match")
	}
}

func TestConversationSummaries(t *testing.T) {
	s := NewInMemoryStore()
	s.Append("628123", models.StoredMessage{MessageID: "a", Text: "halo", Timestamp: "1"})
	s.Append("628123", models.StoredMessage{MessageID: "b", Text: "harga berapa?", Timestamp: "2"})
	s.Append("628555", models.StoredMessage{MessageID: "c", Text: "siang", Timestamp: "3"})

	summaries := s.ConversationSummaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	byContact := make(map[string]models.ConversationSummary)
	for _, sum := range summaries {
		byContact[sum.ContactID] = sum
	}
	first := byContact["628123"]
	if first.LastMessageText != "harga berapa?" || first.MessageCount != 2 || first.LastTimestamp != "2" {
		t.Errorf("summary derived incorrectly: %+v", first)
	}
	if s.TotalConversations() != 2 || s.TotalMessages() != 3 {
		t.Errorf("totals wrong: %d conversations, %d messages", s.TotalConversations(), s.TotalMessages())
	}
}
