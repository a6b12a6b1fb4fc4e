// Package processor turns raw webhook payloads into history appends,
// client broadcasts and AI replies.
//
// Each inbound message runs the same pipeline: claim a dedup marker,
// normalize and append to history, broadcast, then optionally request
// an AI reply, send it through the vendor and append/broadcast that too.
// Downstream failures (AI, vendor send) are logged and terminate only
// the event being processed; the already-committed append and broadcast
// of the customer message are never rolled back.
package processor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ChatDeskID/WaRelay/internal/broadcast"
	"github.com/ChatDeskID/WaRelay/internal/dedup"
	"github.com/ChatDeskID/WaRelay/internal/genai"
	"github.com/ChatDeskID/WaRelay/internal/models"
	"github.com/ChatDeskID/WaRelay/internal/store"
	"github.com/ChatDeskID/WaRelay/internal/whatsapp"
)

// aiReplyRecencyWindow guards against double-sending the same AI reply
// when the AI call races with a redelivered webhook that slipped past
// the marker.
const aiReplyRecencyWindow = 60 * time.Second

// Processor owns the inbound event pipeline.
type Processor struct {
	store            store.EventStore
	dedup            *dedup.Deduplicator
	broadcaster      *broadcast.Broadcaster
	sender           whatsapp.Sender
	engine           genai.ReplyEngine // nil disables AI processing
	ownPhoneNumberID string
}

// New creates a processor. A nil engine disables the AI branch; the
// inbound relay path works without it.
func New(st store.EventStore, dd *dedup.Deduplicator, bc *broadcast.Broadcaster, sender whatsapp.Sender, engine genai.ReplyEngine, ownPhoneNumberID string) *Processor {
	return &Processor{
		store:            st,
		dedup:            dd,
		broadcaster:      bc,
		sender:           sender,
		engine:           engine,
		ownPhoneNumberID: ownPhoneNumberID,
	}
}

// HandleWebhook walks a vendor payload and processes every inbound
// message and status update it carries. The gateway calls this from a
// background goroutine after acknowledging the delivery.
func (p *Processor) HandleWebhook(ctx context.Context, payload models.WebhookPayload) {
	if payload.Object != models.WebhookObject {
		slog.Debug("Processor.HandleWebhook: ignoring payload with unexpected object", "object", payload.Object)
		return
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				p.handleMessage(ctx, msg)
			}
			for _, st := range change.Value.Statuses {
				p.handleStatus(ctx, st)
			}
		}
	}
}

// handleMessage runs the inbound message state machine.
func (p *Processor) handleMessage(ctx context.Context, msg models.InboundMessage) {
	if msg.From == "" || msg.ID == "" {
		slog.Warn("Processor.handleMessage: dropping message without sender or id")
		return
	}
	if p.ownPhoneNumberID != "" && msg.From == p.ownPhoneNumberID {
		slog.Debug("Processor.handleMessage: dropping self-sent message", "messageId", msg.ID)
		return
	}

	// The single idempotency gate for webhook redelivery. Rejection is
	// expected vendor behavior, not an error.
	if !p.dedup.TryBegin(msg.From, msg.ID) {
		slog.Debug("Processor.handleMessage: duplicate delivery skipped", "from", msg.From, "messageId", msg.ID)
		return
	}

	// Defense in depth: a duplicate that raced past the marker is still
	// rejected by the history itself.
	if p.store.HasMessage(msg.From, msg.ID) {
		slog.Debug("Processor.handleMessage: message already in history", "from", msg.From, "messageId", msg.ID)
		return
	}

	text := models.DisplayText(msg)
	stored := models.StoredMessage{
		MessageID:  msg.ID,
		From:       msg.From,
		Text:       text,
		Timestamp:  msg.Timestamp,
		Type:       models.MessageTypeMessage,
		ReceivedAt: time.Now(),
	}
	p.store.Append(msg.From, stored)

	// The customer message is fanned out regardless of whether AI
	// processing follows or fails.
	p.broadcaster.Broadcast(ctx, models.NewMessageEnvelope(stored))

	if msg.Type != "text" || strings.TrimSpace(text) == "" || p.engine == nil {
		p.dedup.Advance(msg.From, msg.ID, dedup.StageCompleted)
		return
	}

	p.dedup.Advance(msg.From, msg.ID, dedup.StageAIProcessing)
	p.processAIReply(ctx, msg.From, msg.ID, text)
}

// processAIReply runs the AI branch of the pipeline. Failures here are
// terminal for this event only and are not retried automatically.
func (p *Processor) processAIReply(ctx context.Context, contactID, messageID, text string) {
	reply, err := p.engine.Reply(ctx, contactID, text)
	if err != nil {
		slog.Error("Processor.processAIReply: reply engine failed", "error", err, "contact", contactID, "messageId", messageID)
		return
	}
	if reply == "" {
		slog.Debug("Processor.processAIReply: engine returned nothing to send", "contact", contactID, "messageId", messageID)
		p.dedup.Advance(contactID, messageID, dedup.StageCompleted)
		return
	}

	// Recency check: an identical AI reply appended within the window
	// means a racing duplicate already answered this message.
	if p.store.HasRecentAIReply(contactID, reply, aiReplyRecencyWindow) {
		slog.Info("Processor.processAIReply: identical recent reply found, skipping send", "contact", contactID, "messageId", messageID)
		p.dedup.Advance(contactID, messageID, dedup.StageCompleted)
		return
	}

	replyID, err := p.sender.SendText(ctx, contactID, reply)
	if err != nil {
		slog.Error("Processor.processAIReply: vendor send failed", "error", err, "contact", contactID, "messageId", messageID)
		return
	}

	aiMsg := models.StoredMessage{
		MessageID:  replyID,
		From:       p.ownPhoneNumberID,
		To:         contactID,
		Text:       reply,
		Timestamp:  strconv.FormatInt(time.Now().Unix(), 10),
		Type:       models.MessageTypeAIReply,
		IsFromMe:   true,
		IsAIReply:  true,
		Status:     models.MessageStatusSent,
		AIStatus:   "replied",
		ReceivedAt: time.Now(),
	}
	p.store.Append(contactID, aiMsg)
	p.broadcaster.Broadcast(ctx, models.NewMessageEnvelope(aiMsg))
	p.dedup.Advance(contactID, messageID, dedup.StageCompleted)
	slog.Info("Processor.processAIReply: AI reply sent", "contact", contactID, "replyId", replyID)
}

// handleStatus applies a vendor status update and fans it out. Status
// updates carry no dedup marker: sent/delivered/read may legitimately
// arrive multiple times for the same message id.
func (p *Processor) handleStatus(ctx context.Context, st models.InboundStatus) {
	found := p.store.UpdateStatus(st.ID, models.MessageStatus(st.Status), st.Timestamp)
	if !found {
		// Clients may have their own record, so the event is broadcast
		// regardless.
		slog.Warn("Processor.handleStatus: status update for unknown message", "messageId", st.ID, "status", st.Status)
	}
	upd := models.StatusUpdate{
		MessageID:   st.ID,
		Status:      models.MessageStatus(st.Status),
		Timestamp:   st.Timestamp,
		RecipientID: st.RecipientID,
	}
	p.broadcaster.Broadcast(ctx, models.NewStatusEnvelope(upd))
}

// SendOperatorMessage sends an operator-initiated message through the
// vendor, appends it to history and fans it out so every registered
// client converges on the same conversation view. It bypasses AI
// processing entirely.
func (p *Processor) SendOperatorMessage(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", models.ErrEmptyRecipient
	}
	if body == "" {
		return "", models.ErrEmptyBody
	}

	messageID, err := p.sender.SendText(ctx, to, body)
	if err != nil {
		return "", err
	}

	msg := models.StoredMessage{
		MessageID:  messageID,
		From:       p.ownPhoneNumberID,
		To:         to,
		Text:       body,
		Timestamp:  strconv.FormatInt(time.Now().Unix(), 10),
		Type:       models.MessageTypeMessage,
		IsFromMe:   true,
		Status:     models.MessageStatusSent,
		ReceivedAt: time.Now(),
	}
	p.store.Append(to, msg)
	p.broadcaster.Broadcast(ctx, models.NewMessageEnvelope(msg))
	slog.Info("Processor.SendOperatorMessage: message sent", "to", to, "messageId", messageID)
	return messageID, nil
}
