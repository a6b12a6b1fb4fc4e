package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// systemPrompt sets the persona for the OpenAI-backed engine. Replies
// are sent to customers verbatim, so the prompt keeps them short.
const systemPrompt = "You are a helpful assistant answering WhatsApp messages " +
	"for a small business. Answer briefly and politely in the customer's language. " +
	"If you do not know the answer, say a human will follow up."

// chatService defines the minimal chat-completion surface used by the
// OpenAI engine, allowing a mock in tests.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientOpts holds configuration for the OpenAI engine.
type ClientOpts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ClientOption configures the OpenAI engine.
type ClientOption func(*ClientOpts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) ClientOption {
	return func(o *ClientOpts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) ClientOption {
	return func(o *ClientOpts) { o.Model = model }
}

// Client is the OpenAI-backed reply engine.
type Client struct {
	chat    chatService
	model   string
	timeout time.Duration
}

// Compile-time check that Client implements ReplyEngine.
var _ ReplyEngine = (*Client)(nil)

// NewClient initializes the OpenAI engine, falling back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := ClientOpts{Model: openai.ChatModelGPT4oMini, Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	svc := cli.Chat.Completions
	return &Client{chat: &svc, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Reply generates a reply through a chat completion.
func (c *Client) Reply(ctx context.Context, userID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	reply := resp.Choices[0].Message.Content
	slog.Debug("Client.Reply: completion generated", "user_id", userID, "reply_length", len(reply))
	return reply, nil
}
