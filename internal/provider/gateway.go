package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhanuzh/polychat/internal/config"
)

// Roles used in chat turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single call to the gateway. Exactly one of Messages or
// Prompt is set: Prompt carries the flattened plain-text form that some
// upstream providers require instead of a structured turn array.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`

	// Extras are provider-specific parameters from the model descriptor.
	Extras map[string]any `json:"-"`
}

// Gateway is the hosted chat capability every model call goes through.
// Replies are returned untyped because their envelope depends on the
// upstream provider; callers pass them through normalize.Normalize.
type Gateway interface {
	Name() string
	// Chat performs one blocking completion and returns the raw reply.
	Chat(ctx context.Context, req *ChatRequest) (any, error)
	// ChatStream starts an incremental completion. It returns
	// ErrNotStreamable when the gateway answered with a single,
	// non-incremental payload.
	ChatStream(ctx context.Context, req *ChatRequest) (Stream, error)
}

// Stream yields raw chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (any, error)
	Close() error
}

// ModelLister is implemented by gateways that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ErrNotStreamable reports that a streaming request came back as a single
// payload. The caller should retry with a blocking call.
var ErrNotStreamable = errors.New("gateway response is not incremental")

// NewGateway creates the gateway client selected by cfg.Gateway.Kind.
func NewGateway(cfg *config.Config) (Gateway, error) {
	switch strings.ToLower(cfg.Gateway.Kind) {
	case "", config.GatewayOpenAI:
		return NewOpenAIGateway(cfg.Gateway.APIKey, cfg.Gateway.BaseURL, cfg.GatewayTimeout(), cfg.Gateway.Headers), nil
	case config.GatewayHTTP:
		return NewHTTPGateway(cfg.Gateway.APIKey, cfg.Gateway.BaseURL, cfg.GatewayTimeout(), cfg.Gateway.Headers), nil
	default:
		return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
	}
}

// FlattenPrompt joins a system instruction and a user message into the
// single plain-text form used by the degraded transport.
func FlattenPrompt(system, message string) string {
	return system + "\n\nUser: " + message
}
