package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGateway talks to any OpenAI-compatible chat completions endpoint
// (OpenRouter, a self-hosted proxy, OpenAI itself).
type OpenAIGateway struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIGateway creates a gateway client. Extra headers are sent on every request.
func NewOpenAIGateway(apiKey, baseURL string, timeout time.Duration, headers map[string]string) *OpenAIGateway {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}
	return &OpenAIGateway{
		client:  openai.NewClientWithConfig(cfg),
		baseURL: cfg.BaseURL,
	}
}

func (g *OpenAIGateway) Name() string { return "openai-compatible" }

// Chat sends a blocking completion and returns the typed response struct.
func (g *OpenAIGateway) Chat(ctx context.Context, req *ChatRequest) (any, error) {
	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("%s chat error: %w", g.baseURL, err)
	}
	return resp, nil
}

// ChatStream opens a streaming completion.
func (g *OpenAIGateway) ChatStream(ctx context.Context, req *ChatRequest) (Stream, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s stream error: %w", g.baseURL, err)
	}
	return &openAIStream{stream: stream}, nil
}

// ListModels returns the model ids the gateway advertises.
func (g *OpenAIGateway) ListModels(ctx context.Context) ([]string, error) {
	list, err := g.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s list models: %w", g.baseURL, err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (g *OpenAIGateway) buildRequest(req *ChatRequest, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req),
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	applyExtras(&chatReq, req.Extras)
	return chatReq
}

// convertMessages maps turns to the OpenAI wire form. A flattened prompt is
// sent as a single user message.
func convertMessages(req *ChatRequest) []openai.ChatCompletionMessage {
	if len(req.Messages) == 0 {
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		}}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

// openAIStream adapts the typed go-openai stream to the untyped Stream.
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (any, error) {
	chunk, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// headerTransport adds static headers (attribution, routing hints) to each request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		r = r.Clone(r.Context())
		for k, v := range t.headers {
			r.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(r)
}
