package models

// WebhookPayload is the vendor event envelope delivered to POST /webhook.
// Only the fields the relay consumes are modeled; unknown fields are
// ignored by the JSON decoder.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is one business-account entry in a webhook delivery.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange carries one field change; the relay only processes
// changes where Field is "messages".
type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the inbound messages and status updates of a change.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []InboundStatus  `json:"statuses"`
}

// WebhookMetadata identifies the receiving business phone number.
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact maps a wa_id to a profile name.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one inbound message in a webhook delivery. The
// type-specific payload pointers are nil for other types.
type InboundMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *TextBody     `json:"text,omitempty"`
	Image     *MediaBody    `json:"image,omitempty"`
	Video     *MediaBody    `json:"video,omitempty"`
	Audio     *MediaBody    `json:"audio,omitempty"`
	Document  *DocumentBody `json:"document,omitempty"`
}

// TextBody is the payload of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// MediaBody is the payload of image, video and audio messages.
type MediaBody struct {
	ID       string `json:"id,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// DocumentBody is the payload of a document message.
type DocumentBody struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// InboundStatus is one status update in a webhook delivery.
type InboundStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Placeholder text for media messages without a usable caption.
const (
	PlaceholderImage    = "[Image]"
	PlaceholderVideo    = "[Video]"
	PlaceholderAudio    = "[Audio]"
	PlaceholderDocument = "[Document]"
	PlaceholderUnknown  = "[Unsupported]"
)

// DisplayText maps an inbound message to its stored display text. The
// switch is total over the vendor message types the relay handles;
// anything new falls through to the unsupported placeholder.
func DisplayText(m InboundMessage) string {
	switch m.Type {
	case "text":
		if m.Text == nil {
			return ""
		}
		return m.Text.Body
	case "image":
		if m.Image != nil && m.Image.Caption != "" {
			return m.Image.Caption
		}
		return PlaceholderImage
	case "video":
		if m.Video != nil && m.Video.Caption != "" {
			return m.Video.Caption
		}
		return PlaceholderVideo
	case "audio":
		return PlaceholderAudio
	case "document":
		return PlaceholderDocument
	default:
		return PlaceholderUnknown
	}
}
