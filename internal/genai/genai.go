// Package genai provides the AI reply engines used by the inbound
// processor.
//
// Two implementations exist behind the ReplyEngine interface: an HTTP
// client for the dedicated reply backend, and an OpenAI-backed engine
// for deployments without one. An empty reply is not an error; the
// processor treats it as nothing-to-send.
package genai

import "context"

// ReplyEngine generates a reply for an inbound customer message.
type ReplyEngine interface {
	// Reply returns the reply text for the given contact and message
	// text. An empty string with a nil error means no reply should be
	// sent.
	Reply(ctx context.Context, userID, text string) (string, error)
}
