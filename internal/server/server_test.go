package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/polychat/internal/config"
	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
	"github.com/Dhanuzh/polychat/internal/session"
)

const (
	okModel     = "openai/gpt-4o"
	otherModel  = "deepseek/deepseek-chat"
	brokenModel = "cohere/command-r-plus"
)

// echoGateway streams "echo: <message>" back, except for brokenModel.
type echoGateway struct{}

func (echoGateway) Name() string { return "echo" }

func lastUser(req *provider.ChatRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	return req.Messages[len(req.Messages)-1].Content
}

func (echoGateway) ChatStream(ctx context.Context, req *provider.ChatRequest) (provider.Stream, error) {
	if req.Model == brokenModel {
		return nil, errors.New("stream down")
	}
	return &echoStream{chunks: []string{"echo: ", lastUser(req)}}, nil
}

func (echoGateway) Chat(ctx context.Context, req *provider.ChatRequest) (any, error) {
	if req.Model == brokenModel {
		return nil, &provider.StatusError{StatusCode: 500, Body: "boom"}
	}
	return "echo: " + lastUser(req), nil
}

type echoStream struct{ chunks []string }

func (s *echoStream) Recv() (any, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": c}}}}, nil
}

func (s *echoStream) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{MaxTokens: 100, Temperature: 0.5}
	registry := provider.NewRegistry()
	d := dispatch.NewDispatcher(echoGateway{}, registry, dispatch.Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature})
	s := New(cfg, registry, dispatch.NewCoordinator(d, cfg.Dispatch), dispatch.NewSelection(), session.NewStore(d, registry))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []dispatch.Event {
	t.Helper()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	var events []dispatch.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev dispatch.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func lastText(events []dispatch.Event, model string) string {
	text := ""
	for _, ev := range events {
		if ev.Model == model && ev.Kind == dispatch.EventAssistant {
			text = ev.Text
		}
	}
	return text
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["awaiting"])
}

func TestModelsEnableToggle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPut, ts.URL+"/models/"+otherModel+"/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/models", "")
	var models []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	require.NotEmpty(t, models)

	enabled := map[string]bool{}
	for _, m := range models {
		enabled[m.ID] = m.Enabled
	}
	assert.False(t, enabled[otherModel])
	assert.True(t, enabled[okModel])
	_, hasImageModel := enabled["black-forest-labs/flux-1.1-pro"]
	assert.False(t, hasImageModel)

	resp = do(t, http.MethodPut, ts.URL+"/models/acme/unknown/enabled", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFanOutStreamsEveryModel(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/fanout", `{"message":"hi","models":["`+okModel+`","`+brokenModel+`","`+otherModel+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readEvents(t, resp)
	require.NotEmpty(t, events)

	assert.Equal(t, "echo: hi", lastText(events, okModel))
	assert.Equal(t, "echo: hi", lastText(events, otherModel))

	var brokenErrors, otherErrors int
	for _, ev := range events {
		if ev.Kind != dispatch.EventError {
			continue
		}
		if ev.Model == brokenModel {
			brokenErrors++
		} else {
			otherErrors++
		}
	}
	assert.Equal(t, 1, brokenErrors)
	assert.Zero(t, otherErrors)

	done := events[len(events)-1]
	assert.Equal(t, dispatch.EventDone, done.Kind)
	assert.Equal(t, "2 of 3 models answered", done.Text)
}

func TestFanOutValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/fanout", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/fanout", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFocusedChatFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/chat/messages", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no model selected yet")

	resp = do(t, http.MethodPut, ts.URL+"/chat/model", `{"model":"`+okModel+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, msg := range []string{"one", "two"} {
		resp = do(t, http.MethodPost, ts.URL+"/chat/messages", `{"message":"`+msg+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		events := readEvents(t, resp)
		assert.Equal(t, "echo: "+msg, lastText(events, okModel))
		assert.Equal(t, dispatch.EventDone, events[len(events)-1].Kind)
	}

	resp = do(t, http.MethodGet, ts.URL+"/chat", "")
	var chat struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Turns int    `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, DefaultSessionID, chat.ID)
	assert.Equal(t, okModel, chat.Model)
	assert.Equal(t, 5, chat.Turns)

	resp = do(t, http.MethodGet, ts.URL+"/chat/export", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+"/chat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/chat", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, 1, chat.Turns)

	// Other sessions are independent.
	resp = do(t, http.MethodGet, ts.URL+"/chat", "", "X-Session-ID", "other")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, "other", chat.ID)
	assert.Empty(t, chat.Model)
}

func TestSelectUnknownModel(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodPut, ts.URL+"/chat/model", `{"model":"nope/nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodOptions, ts.URL+"/fanout", "", "Origin", "http://example.com")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAllowedOrigin(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.Server.CORS = []string{"http://console.local"}

	assert.Equal(t, "http://console.local", s.allowedOrigin("http://console.local"))
	assert.Empty(t, s.allowedOrigin("http://evil.example"))
}

func TestWebSocketConsole(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil := func(kind dispatch.EventKind) []dispatch.Event {
		var events []dispatch.Event
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var ev dispatch.Event
			require.NoError(t, conn.ReadJSON(&ev))
			events = append(events, ev)
			if ev.Kind == kind {
				return events
			}
		}
	}

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "send", Message: "grid", Models: []string{okModel, otherModel}}))
	events := readUntil(dispatch.EventDone)
	assert.Equal(t, "echo: grid", lastText(events, okModel))
	assert.Equal(t, "echo: grid", lastText(events, otherModel))

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "chat", Message: "too early"}))
	events = readUntil(dispatch.EventNotice)
	assert.Equal(t, "select a model first", events[len(events)-1].Text)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "focus", Model: okModel}))
	readUntil(dispatch.EventNotice)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "chat", Message: "focused"}))
	events = readUntil(dispatch.EventDone)
	assert.Equal(t, "echo: focused", lastText(events, okModel))
	assert.Equal(t, string(dispatch.StateComplete), events[len(events)-1].Text)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "bogus"}))
	events = readUntil(dispatch.EventNotice)
	assert.Contains(t, events[len(events)-1].Text, "unknown command")
}
