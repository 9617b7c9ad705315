package components

import (
	"strings"
	"testing"
)

func TestRenderKeepsText(t *testing.T) {
	mr := NewMarkdownRenderer(40, "notty", "")
	out := mr.Render("**hello** world")
	if !strings.Contains(out, "hello") || !strings.Contains(out, "world") {
		t.Errorf("rendered output lost text: %q", out)
	}
}

func TestSetWidth(t *testing.T) {
	mr := NewMarkdownRenderer(3, "dark", "monokai")
	if mr.Width() != 10 {
		t.Errorf("width = %d, want clamp to 10", mr.Width())
	}
	mr.SetWidth(60)
	if mr.Width() != 60 {
		t.Errorf("width = %d, want 60", mr.Width())
	}
}
