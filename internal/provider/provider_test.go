package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/polychat/internal/config"
)

func drain(t *testing.T, s Stream) []any {
	t.Helper()
	defer s.Close()
	var chunks []any
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

// TestGatewayInterface ensures both clients implement the interface
func TestGatewayInterface(t *testing.T) {
	gateways := []struct {
		name    string
		gateway Gateway
	}{
		{"openai", NewOpenAIGateway("key", "http://localhost", time.Second, nil)},
		{"http", NewHTTPGateway("key", "http://localhost", time.Second, nil)},
	}

	for _, tt := range gateways {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.gateway.Name())
		})
	}

	var _ ModelLister = (*OpenAIGateway)(nil)
}

func TestNewGateway(t *testing.T) {
	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{"", "openai-compatible", false},
		{config.GatewayOpenAI, "openai-compatible", false},
		{"HTTP", "http", false},
		{"grpc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := &config.Config{Gateway: config.GatewayConfig{Kind: tt.kind, BaseURL: "http://localhost"}}
			g, err := NewGateway(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Name())
		})
	}
}

func TestFlattenPrompt(t *testing.T) {
	assert.Equal(t, "You are X.\n\nUser: hi", FlattenPrompt("You are X.", "hi"))
}

// ─── OpenAI-compatible gateway ────────────────────────────────────────────────

func TestOpenAIGatewayChat(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "polychat", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"openai/gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	g := NewOpenAIGateway("sk-test", srv.URL+"/v1", 5*time.Second, map[string]string{"X-Title": "polychat"})
	resp, err := g.Chat(context.Background(), &ChatRequest{
		Model: "openai/gpt-4o",
		Messages: []Message{
			{Role: RoleSystem, Content: "You are GPT-4o."},
			{Role: RoleUser, Content: "hi"},
		},
		MaxTokens:   256,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	typed, ok := resp.(openai.ChatCompletionResponse)
	require.True(t, ok, "expected typed response, got %T", resp)
	assert.Equal(t, "hello there", typed.Choices[0].Message.Content)

	assert.Equal(t, "openai/gpt-4o", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
}

func TestOpenAIGatewayFlattenedPrompt(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	g := NewOpenAIGateway("", srv.URL, 5*time.Second, nil)
	_, err := g.Chat(context.Background(), &ChatRequest{Model: "m", Prompt: "sys\n\nUser: hi"})
	require.NoError(t, err)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[0].Role)
	assert.Equal(t, "sys\n\nUser: hi", got.Messages[0].Content)
}

func TestOpenAIGatewayStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewOpenAIGateway("", srv.URL, 5*time.Second, nil)
	s, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 2)
	first, ok := chunks[0].(openai.ChatCompletionStreamResponse)
	require.True(t, ok)
	assert.Equal(t, "Hel", first.Choices[0].Delta.Content)
}

func TestOpenAIGatewayErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	g := NewOpenAIGateway("", srv.URL, 5*time.Second, nil)
	_, err := g.Chat(context.Background(), &ChatRequest{Model: "m", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Equal(t, ErrorTypeRateLimit, ClassifyError(err).Type)
}

func TestOpenAIGatewayListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"openai/gpt-4o","object":"model"},{"id":"acme/new-model","object":"model"}]}`)
	}))
	defer srv.Close()

	g := NewOpenAIGateway("", srv.URL, 5*time.Second, nil)
	ids, err := g.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"openai/gpt-4o", "acme/new-model"}, ids)
}

// ─── Raw HTTP gateway ──────────────────────────────────────────────────────────

func TestHTTPGatewayChat(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"json object", `{"response":"hi"}`, map[string]any{"response": "hi"}},
		{"json string", `"plain"`, "plain"},
		{"not json", `just text`, "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ChatRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			g := NewHTTPGateway("k", srv.URL, 5*time.Second, nil)
			resp, err := g.Chat(context.Background(), &ChatRequest{Model: "m", Prompt: "p", Stream: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp)
			assert.False(t, got.Stream, "blocking call must not ask for a stream")
			assert.Equal(t, "p", got.Prompt)
		})
	}
}

func TestHTTPGatewayCustomAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token abc", r.Header.Get("Authorization"))
		fmt.Fprint(w, `"ok"`)
	}))
	defer srv.Close()

	g := NewHTTPGateway("ignored", srv.URL, 5*time.Second, nil)
	g.SetHeader("Authorization", "Token abc")
	_, err := g.Chat(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
}

func TestHTTPGatewayStreamSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"text\":\"b\"}\r\n\r\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"text\":\"after done\"}\n\n")
	}))
	defer srv.Close()

	g := NewHTTPGateway("", srv.URL, 5*time.Second, nil)
	s, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 2)
	assert.Equal(t, map[string]any{"text": "b"}, chunks[1])
}

func TestHTTPGatewayStreamSSEKeepsWhitespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: Hello\n\n")
		fmt.Fprint(w, "data:  world\n\n")
		fmt.Fprint(w, "data:!\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewHTTPGateway("", srv.URL, 5*time.Second, nil)
	s, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, []any{"Hello", " world", "!"}, drain(t, s))
}

func TestHTTPGatewayStreamNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":true}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	g := NewHTTPGateway("", srv.URL, 5*time.Second, nil)
	s, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)

	chunks := drain(t, s)
	assert.Len(t, chunks, 2)
}

func TestHTTPGatewayStreamNotIncremental(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"whole"}}]}`)
	}))
	defer srv.Close()

	g := NewHTTPGateway("", srv.URL, 5*time.Second, nil)
	_, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrNotStreamable)
}

func TestHTTPGatewayStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewHTTPGateway("", srv.URL, 5*time.Second, nil)
	_, err := g.ChatStream(context.Background(), &ChatRequest{Model: "m"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "model not found", statusErr.Body)
	assert.Equal(t, ErrorTypeNotFound, ClassifyError(err).Type)
}

// ─── Error classification ──────────────────────────────────────────────────────

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"canceled", fmt.Errorf("stream: %w", context.Canceled), ErrorTypeCanceled},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"overflow", errors.New("This model's maximum context length is 8192 tokens"), ErrorTypeContextOverflow},
		{"rate limit status", &StatusError{StatusCode: 429}, ErrorTypeRateLimit},
		{"rate limit text", errors.New("quota exceeded for today"), ErrorTypeRateLimit},
		{"auth", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, ErrorTypeAuth},
		{"not found", &StatusError{StatusCode: 404}, ErrorTypeNotFound},
		{"server", &StatusError{StatusCode: 502, Body: "bad gateway"}, ErrorTypeAPIError},
		{"other", errors.New("boom"), ErrorTypeAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyError(tt.err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Type)
			assert.ErrorIs(t, ce, tt.err)
		})
	}

	assert.Nil(t, ClassifyError(nil))
}

func TestFriendlyMessage(t *testing.T) {
	assert.Equal(t, "boom", FriendlyMessage(errors.New("boom")))
	assert.Equal(t, "", FriendlyMessage(nil))

	msg := FriendlyMessage(&StatusError{StatusCode: 429, Body: "slow down"})
	assert.True(t, strings.HasPrefix(msg, "Rate limited by the gateway"), msg)
	assert.Contains(t, msg, "slow down")
}
