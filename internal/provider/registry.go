package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/Dhanuzh/polychat/internal/config"
)

// Capabilities describes the modalities a model handles
type Capabilities struct {
	Text     bool `json:"text"`
	ImageIn  bool `json:"image_in"`
	ImageOut bool `json:"image_out"`
}

// Params are the invocation parameters sent with every call to a model.
// Zero values fall back to the configured defaults.
type Params struct {
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// ModelDescriptor is one invocable model. Descriptors are never mutated after
// they are stored; updates replace the whole value.
type ModelDescriptor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Provider     string       `json:"provider"`
	Capabilities Capabilities `json:"capabilities"`
	Params       Params       `json:"params"`
}

// DisplayName returns Name, or the id when no name is known.
func (m *ModelDescriptor) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// Registry manages the model catalog
type Registry struct {
	mu              sync.RWMutex
	models          map[string]*ModelDescriptor
	order           []string
	lastFetch       time.Time
	refreshInterval time.Duration
}

// NewRegistry creates a registry preloaded with the builtin catalog
func NewRegistry() *Registry {
	r := &Registry{
		models:          make(map[string]*ModelDescriptor),
		refreshInterval: time.Hour,
	}
	for _, m := range builtinModels() {
		r.put(m)
	}
	return r
}

// NewRegistryFromConfig creates the builtin registry and applies cfg.Models.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.ApplyConfig(cfg)
	return r
}

// put stores m, keeping first-insertion order. Must be called with mu held or
// before the registry is shared.
func (r *Registry) put(m ModelDescriptor) {
	if m.Provider == "" {
		m.Provider, _ = ParseModel(m.ID)
	}
	if _, ok := r.models[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = &m
}

// ApplyConfig adds the models listed in the config file, or overrides the
// builtin entry with the same id. Unset fields keep the builtin values.
func (r *Registry) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mc := range cfg.Models {
		if mc.ID == "" {
			continue
		}
		m := ModelDescriptor{ID: mc.ID, Capabilities: Capabilities{Text: true}}
		if existing, ok := r.models[mc.ID]; ok {
			m = *existing
		}
		if mc.Name != "" {
			m.Name = mc.Name
		}
		if mc.Provider != "" {
			m.Provider = mc.Provider
		}
		if mc.MaxTokens > 0 {
			m.Params.MaxTokens = mc.MaxTokens
		}
		if mc.Temperature != nil {
			t := *mc.Temperature
			m.Params.Temperature = &t
		}
		if len(mc.Extras) > 0 {
			extras := make(map[string]any, len(mc.Extras))
			for k, v := range mc.Extras {
				extras[k] = v
			}
			m.Params.Extras = extras
		}
		m.Capabilities.ImageIn = m.Capabilities.ImageIn || mc.ImageInput
		m.Capabilities.ImageOut = m.Capabilities.ImageOut || mc.ImageOutput
		r.put(m)
	}
}

// GetModel returns the descriptor for id.
func (r *Registry) GetModel(id string) (*ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// ListChatModelIDs returns the ids of text-capable models in catalog order.
func (r *Registry) ListChatModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.models[id].Capabilities.Text {
			ids = append(ids, id)
		}
	}
	return ids
}

// List returns every descriptor in catalog order.
func (r *Registry) List() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.models[id])
	}
	return out
}

// Find does a case-insensitive substring search over ids and names
func (r *Registry) Find(query string) []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(query)
	var results []ModelDescriptor
	for _, id := range r.order {
		m := r.models[id]
		if strings.Contains(strings.ToLower(m.ID), query) ||
			strings.Contains(strings.ToLower(m.Name), query) {
			results = append(results, *m)
		}
	}
	return results
}

// Expand resolves model patterns to ids in catalog order. A plain id is
// kept as given, known or not; a glob such as "openai/*" expands to every
// matching id. Globs that match nothing are returned in unmatched.
func (r *Registry) Expand(patterns ...string) (ids, unmatched []string, err error) {
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			add(pattern)
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid model pattern %q: %w", pattern, err)
		}
		matched := false
		for _, id := range r.order {
			if g.Match(id) {
				add(id)
				matched = true
			}
		}
		if !matched {
			unmatched = append(unmatched, pattern)
		}
	}
	return ids, unmatched, nil
}

// Refresh asks the gateway for its model list and adds any id the catalog
// does not know yet as a text model with default parameters. It is a no-op
// when called again within the refresh interval. Returns the number of
// models added.
func (r *Registry) Refresh(ctx context.Context, lister ModelLister) (int, error) {
	r.mu.RLock()
	recent := !r.lastFetch.IsZero() && time.Since(r.lastFetch) < r.refreshInterval
	r.mu.RUnlock()
	if recent {
		return 0, nil
	}

	ids, err := lister.ListModels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh models: %w", err)
	}
	sort.Strings(ids)

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := r.models[id]; ok {
			continue
		}
		_, name := ParseModel(id)
		r.put(ModelDescriptor{ID: id, Name: name, Capabilities: Capabilities{Text: true}})
		added++
	}
	r.lastFetch = time.Now()
	return added, nil
}

// ParseModel splits an "org/model" id into its provider prefix and model name.
// Ids without a prefix return an empty provider.
func ParseModel(id string) (providerID, modelID string) {
	if idx := strings.Index(id, ":"); idx > 0 && !strings.Contains(id[:idx], "/") {
		return id[:idx], id[idx+1:]
	}
	parts := strings.SplitN(id, "/", 2)
	if len(parts) == 2 && parts[0] != "" {
		return parts[0], parts[1]
	}
	return "", id
}

// builtinModels is the catalog shipped with the binary. Ids follow the
// OpenRouter "org/model" convention used by the default gateway.
func builtinModels() []ModelDescriptor {
	text := Capabilities{Text: true}
	vision := Capabilities{Text: true, ImageIn: true}

	return []ModelDescriptor{
		{ID: "openai/gpt-4o", Name: "GPT-4o", Capabilities: vision},
		{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Capabilities: vision},
		{ID: "openai/o3-mini", Name: "o3-mini", Capabilities: text},
		{ID: "anthropic/claude-3.7-sonnet", Name: "Claude 3.7 Sonnet", Capabilities: vision},
		{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Capabilities: vision},
		{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", Capabilities: vision},
		{ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B", Capabilities: text},
		{ID: "mistralai/mistral-large", Name: "Mistral Large", Capabilities: text},
		{ID: "deepseek/deepseek-chat", Name: "DeepSeek V3", Capabilities: text},
		{ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", Capabilities: text, Params: Params{MaxTokens: 4096}},
		{ID: "x-ai/grok-2-1212", Name: "Grok 2", Capabilities: text},
		{ID: "qwen/qwen-2.5-72b-instruct", Name: "Qwen 2.5 72B", Capabilities: text},
		{ID: "cohere/command-r-plus", Name: "Command R+", Capabilities: text},
		{ID: "black-forest-labs/flux-1.1-pro", Name: "FLUX 1.1 Pro", Capabilities: Capabilities{ImageOut: true}},
	}
}
