package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is read.
const MaxErrorBodySize = 64 * 1024

// HTTPGateway posts ChatRequest JSON to a single endpoint and returns the
// decoded reply as-is. It exists for gateways whose envelopes are not
// OpenAI-shaped; normalization happens downstream.
type HTTPGateway struct {
	client   *http.Client
	apiKey   string
	endpoint string
	headers  map[string]string
}

// NewHTTPGateway creates a raw JSON gateway client for the given endpoint URL.
func NewHTTPGateway(apiKey, endpoint string, timeout time.Duration, headers map[string]string) *HTTPGateway {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &HTTPGateway{
		client:   &http.Client{Timeout: timeout},
		apiKey:   apiKey,
		endpoint: endpoint,
		headers:  headers,
	}
}

func (g *HTTPGateway) Name() string { return "http" }

// SetHeader sets a custom header for all requests
func (g *HTTPGateway) SetHeader(key, value string) {
	g.headers[key] = value
}

// Chat posts the request and decodes whatever JSON comes back. A non-JSON
// body is returned as a plain string.
func (g *HTTPGateway) Chat(ctx context.Context, req *ChatRequest) (any, error) {
	body := *req
	body.Stream = false

	resp, err := g.do(ctx, &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return decodePayload(data), nil
}

// ChatStream posts with stream=true. Server-sent events and newline-delimited
// JSON are consumed incrementally; any other content type means the gateway
// ignored the stream flag and ErrNotStreamable is returned.
func (g *HTTPGateway) ChatStream(ctx context.Context, req *ChatRequest) (Stream, error) {
	body := *req
	body.Stream = true

	resp, err := g.do(ctx, &body)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		return newLineStream(resp.Body, parseSSELine), nil
	case "application/x-ndjson", "application/jsonl", "application/jsonlines":
		return newLineStream(resp.Body, parseNDJSONLine), nil
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxErrorBodySize))
		resp.Body.Close()
		return nil, fmt.Errorf("%w (content type %q)", ErrNotStreamable, mediaType)
	}
}

// do performs the POST with standardized error handling. On success the
// caller owns resp.Body.
func (g *HTTPGateway) do(ctx context.Context, body *ChatRequest) (*http.Response, error) {
	jsonData, err := marshalRequest(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	}
	if g.apiKey != "" {
		if _, ok := g.headers["Authorization"]; !ok {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
	}
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return resp, nil
}

// marshalRequest encodes body with its extras merged in at the top level.
// Extras never override the standard fields.
func marshalRequest(body *ChatRequest) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil || len(body.Extras) == 0 {
		return data, err
	}
	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range body.Extras {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func decodePayload(data []byte) any {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}

// ─── Line-oriented streams ─────────────────────────────────────────────────────

// lineParser turns one line into a chunk. skip=true drops the line; done=true ends the stream.
type lineParser func(line string) (chunk any, skip, done bool)

type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   lineParser
}

func newLineStream(body io.ReadCloser, parse lineParser) *lineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineStream{body: body, scanner: scanner, parse: parse}
}

func (s *lineStream) Recv() (any, error) {
	for s.scanner.Scan() {
		chunk, skip, done := s.parse(s.scanner.Text())
		if done {
			return nil, io.EOF
		}
		if skip {
			continue
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream receive error: %w", err)
	}
	return nil, io.EOF
}

func (s *lineStream) Close() error {
	return s.body.Close()
}

func parseSSELine(line string) (any, bool, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		// blank separators, comments, event/id fields
		return nil, true, false
	}
	// Only the single space after the colon belongs to the framing.
	data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
	if data == "" {
		return nil, true, false
	}
	if strings.TrimSpace(data) == "[DONE]" {
		return nil, false, true
	}
	return decodePayload([]byte(data)), false, false
}

func parseNDJSONLine(line string) (any, bool, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, true, false
	}
	chunk := decodePayload([]byte(line))
	if m, ok := chunk.(map[string]any); ok && m["done"] == true {
		// Ollama-style terminal record; it may still carry a last fragment.
		if msg, ok := m["message"].(map[string]any); ok {
			if s, _ := msg["content"].(string); s != "" {
				return chunk, false, false
			}
		}
		return nil, false, true
	}
	return chunk, false, false
}
