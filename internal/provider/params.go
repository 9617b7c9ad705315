package provider

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// IsReasoningModel reports whether id names a reasoning model. These reject
// or ignore a sampling temperature.
func IsReasoningModel(id string) bool {
	_, name := ParseModel(strings.ToLower(id))
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if name == prefix || strings.HasPrefix(name, prefix+"-") {
			return true
		}
	}
	return strings.Contains(name, "deepseek-r1") || strings.Contains(name, "reasoner")
}

// ResolveParams picks the invocation parameters for m: the descriptor's own
// values, then the supplied defaults. Temperature is dropped for reasoning
// models; a zero temperature is never sent.
func ResolveParams(m *ModelDescriptor, defaultMaxTokens int, defaultTemperature float64) (maxTokens int, temperature float64) {
	maxTokens = defaultMaxTokens
	temperature = defaultTemperature
	if m == nil {
		return maxTokens, temperature
	}
	if m.Params.MaxTokens > 0 {
		maxTokens = m.Params.MaxTokens
	}
	if m.Params.Temperature != nil {
		temperature = *m.Params.Temperature
	}
	if IsReasoningModel(m.ID) {
		temperature = 0
	}
	return maxTokens, temperature
}

// applyExtras copies the provider-specific extras go-openai has typed fields for.
// Unknown keys are ignored here; HTTPGateway sends them verbatim instead.
func applyExtras(req *openai.ChatCompletionRequest, extras map[string]any) {
	for key, value := range extras {
		switch key {
		case "top_p":
			if f, ok := toFloat(value); ok {
				req.TopP = float32(f)
			}
		case "presence_penalty":
			if f, ok := toFloat(value); ok {
				req.PresencePenalty = float32(f)
			}
		case "frequency_penalty":
			if f, ok := toFloat(value); ok {
				req.FrequencyPenalty = float32(f)
			}
		case "seed":
			if f, ok := toFloat(value); ok {
				seed := int(f)
				req.Seed = &seed
			}
		case "stop":
			switch v := value.(type) {
			case string:
				req.Stop = []string{v}
			case []string:
				req.Stop = v
			case []any:
				for _, s := range v {
					if str, ok := s.(string); ok {
						req.Stop = append(req.Stop, str)
					}
				}
			}
		case "reasoning_effort":
			if s, ok := value.(string); ok {
				req.ReasoningEffort = s
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
