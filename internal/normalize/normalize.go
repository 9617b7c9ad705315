// Package normalize turns whatever a chat gateway hands back into display text.
//
// Gateways aggregate many upstream providers and their reply envelopes differ.
// Instead of type-switching on provider structs, every payload is projected to
// its JSON shape and probed by an ordered list of strategies. The first
// strategy that recognises the shape wins; an unknown shape degrades to a
// diagnostic string so the caller always has something to show.
package normalize

import (
	"encoding"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// strategy recognises one payload shape and extracts its text.
type strategy struct {
	name    string
	extract func(p *payload) (string, bool)
}

// payload carries the original value together with its lazily computed
// generic projection (map[string]any / []any / scalars).
type payload struct {
	raw       any
	generic   any
	projected bool
}

func (p *payload) shape() any {
	if !p.projected {
		p.generic = project(p.raw)
		p.projected = true
	}
	return p.generic
}

// strategies are evaluated in order. Append new provider shapes at the end
// of the list unless they must take precedence over an existing probe.
var strategies = []strategy{
	{"plain_text", plainText},
	{"nested_message", nestedMessage},
	{"stringer", stringer},
	{"text_list", textList},
	{"tagged_text_list", taggedTextList},
	{"content_field", contentField},
	{"text_field", textField},
	{"choices", choicesMessage},
	{"data_field", dataField},
	{"message_or_response", messageOrResponse},
}

// Normalize extracts human-readable text from a gateway reply. It never
// panics and never returns an empty string for a present but unrecognised
// payload.
func Normalize(v any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("[unreadable response: %T]", v)
		}
	}()

	if v == nil {
		return "[empty response: <nil>]"
	}

	p := &payload{raw: v}
	if s, _, ok := match(p); ok {
		return s
	}
	return Describe(v)
}

// Strategy reports the name of the strategy that recognises v, or
// "fallback" when none does.
func Strategy(v any) string {
	if v == nil {
		return "fallback"
	}
	if _, name, ok := match(&payload{raw: v}); ok {
		return name
	}
	return "fallback"
}

// Fragment extracts the incremental text carried by one stream chunk.
// Unlike Normalize it reports false for shapes it does not recognise so the
// caller can skip keep-alive or metadata chunks instead of rendering a
// diagnostic in the middle of a reply.
func Fragment(chunk any) (string, bool) {
	if chunk == nil {
		return "", false
	}
	p := &payload{raw: chunk}
	if s, ok := deltaContent(p); ok {
		return s, true
	}
	s, _, ok := match(p)
	return s, ok
}

// Describe renders the diagnostic used when no strategy matches: the
// runtime type and, for records, the field names.
func Describe(v any) string {
	typeName := fmt.Sprintf("%T", v)
	if m, ok := project(v).(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) == 0 {
			return fmt.Sprintf("[unrecognized response: %s with no fields]", typeName)
		}
		return fmt.Sprintf("[unrecognized response: %s with fields %s]", typeName, strings.Join(keys, ", "))
	}
	return fmt.Sprintf("[unrecognized response: %s]", typeName)
}

func match(p *payload) (string, string, bool) {
	for _, s := range strategies {
		if text, ok := s.extract(p); ok {
			return text, s.name, true
		}
	}
	return "", "", false
}

// project converts typed values (provider response structs, typed maps)
// into the generic JSON representation the probes work on.
func project(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return t
	case json.RawMessage:
		return decodeBytes(t)
	case []byte:
		return decodeBytes(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func decodeBytes(b []byte) any {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

// ─── Strategies ────────────────────────────────────────────────────────────────

func plainText(p *payload) (string, bool) {
	switch t := p.raw.(type) {
	case string:
		return t, true
	case json.RawMessage, []byte:
		if s, ok := p.shape().(string); ok {
			return s, true
		}
	}
	return "", false
}

func nestedMessage(p *payload) (string, bool) {
	msg, ok := field(p.shape(), "message").(map[string]any)
	if !ok {
		return "", false
	}
	if s, ok := nonEmpty(msg["content"]); ok {
		return s, true
	}
	return nonEmpty(msg["text"])
}

func stringer(p *payload) (string, bool) {
	switch t := p.raw.(type) {
	case fmt.Stringer:
		return t.String(), true
	case encoding.TextMarshaler:
		b, err := t.MarshalText()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

func textList(p *payload) (string, bool) {
	list, ok := p.shape().([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	if _, ok := field(list[0], "text").(string); !ok {
		return "", false
	}
	var sb strings.Builder
	for _, item := range list {
		if s, ok := nonEmpty(field(item, "text")); ok {
			sb.WriteString(s)
		} else if s, ok := nonEmpty(field(item, "content")); ok {
			sb.WriteString(s)
		}
	}
	return sb.String(), true
}

func taggedTextList(p *payload) (string, bool) {
	list, ok := p.shape().([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	first, ok := list[0].(map[string]any)
	if !ok || first["type"] != "text" {
		return "", false
	}
	s, _ := first["text"].(string)
	return s, true
}

func contentField(p *payload) (string, bool) {
	switch c := field(p.shape(), "content").(type) {
	case string:
		return c, c != ""
	case []any:
		if len(c) == 0 {
			return "", false
		}
		inner := &payload{raw: c, generic: c, projected: true}
		if s, ok := textList(inner); ok {
			return s, true
		}
		return taggedTextList(inner)
	}
	return "", false
}

func textField(p *payload) (string, bool) {
	return nonEmpty(field(p.shape(), "text"))
}

func choicesMessage(p *payload) (string, bool) {
	choices, ok := field(p.shape(), "choices").([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	return nonEmpty(field(field(choices[0], "message"), "content"))
}

func dataField(p *payload) (string, bool) {
	data := field(p.shape(), "data")
	if s, ok := nonEmpty(field(data, "content")); ok {
		return s, true
	}
	return nonEmpty(field(data, "text"))
}

func messageOrResponse(p *payload) (string, bool) {
	if s, ok := nonEmpty(field(p.shape(), "message")); ok {
		return s, true
	}
	return nonEmpty(field(p.shape(), "response"))
}

// deltaContent handles OpenAI-style stream chunks: choices[0].delta.content.
// A chunk that carries a delta without content (role announcements, finish
// markers) yields an empty fragment.
func deltaContent(p *payload) (string, bool) {
	choices, ok := field(p.shape(), "choices").([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	delta, ok := field(choices[0], "delta").(map[string]any)
	if !ok {
		return "", false
	}
	s, _ := delta["content"].(string)
	return s, true
}

func field(v any, name string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[name]
}

func nonEmpty(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
