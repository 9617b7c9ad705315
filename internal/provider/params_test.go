package provider

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"openai/o3-mini", true},
		{"o1", true},
		{"openai/o4-mini-high", true},
		{"deepseek/deepseek-r1", true},
		{"deepseek/deepseek-reasoner", true},
		{"openai/gpt-4o", false},
		{"openai/omni-moderation", false},
		{"anthropic/claude-3.5-sonnet", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReasoningModel(tt.id))
		})
	}
}

func TestResolveParams(t *testing.T) {
	temp := 0.1
	tests := []struct {
		name     string
		model    *ModelDescriptor
		wantMax  int
		wantTemp float64
	}{
		{"nil model", nil, 2048, 0.7},
		{"defaults", &ModelDescriptor{ID: "openai/gpt-4o"}, 2048, 0.7},
		{"overrides", &ModelDescriptor{ID: "openai/gpt-4o", Params: Params{MaxTokens: 100, Temperature: &temp}}, 100, 0.1},
		{"reasoning drops temperature", &ModelDescriptor{ID: "openai/o3-mini", Params: Params{Temperature: &temp}}, 2048, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxTokens, temperature := ResolveParams(tt.model, 2048, 0.7)
			assert.Equal(t, tt.wantMax, maxTokens)
			assert.InDelta(t, tt.wantTemp, temperature, 1e-9)
		})
	}
}

func TestApplyExtras(t *testing.T) {
	var req openai.ChatCompletionRequest
	applyExtras(&req, map[string]any{
		"top_p":            0.9,
		"seed":             42,
		"stop":             []any{"###", 7},
		"reasoning_effort": "high",
		"unknown":          true,
	})

	assert.InDelta(t, 0.9, req.TopP, 1e-6)
	require.NotNil(t, req.Seed)
	assert.Equal(t, 42, *req.Seed)
	assert.Equal(t, []string{"###"}, req.Stop)
	assert.Equal(t, "high", req.ReasoningEffort)
}

func TestMarshalRequestMergesExtras(t *testing.T) {
	data, err := marshalRequest(&ChatRequest{
		Model:  "m",
		Prompt: "p",
		Extras: map[string]any{"num_ctx": 8192, "model": "override-attempt"},
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "m", body["model"])
	assert.EqualValues(t, 8192, body["num_ctx"])
}
