package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/tui/components"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
)

type entry struct {
	kind        entryKind
	text        string
	attachments []string

	// rendered caches the markdown output for a finished reply.
	rendered      string
	renderedWidth int
}

// panel is the visible history of one model.
type panel struct {
	id      string
	title   string
	entries []entry
	typing  bool
	// pending is set by typing_start; the next assistant text opens a new entry.
	pending bool
	state   dispatch.State
}

func newPanel(id, title string) *panel {
	return &panel{id: id, title: title}
}

// apply folds one sink event into the panel.
func (p *panel) apply(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventUser:
		p.entries = append(p.entries, entry{kind: entryUser, text: ev.Text, attachments: ev.Attachments})
		p.state = dispatch.StateStreaming

	case dispatch.EventTypingStart:
		p.typing = true
		p.pending = true
		p.state = dispatch.StateStreaming

	case dispatch.EventTypingEnd:
		p.typing = false
		if p.state == dispatch.StateStreaming {
			p.state = dispatch.StateComplete
		}

	case dispatch.EventAssistant:
		last := len(p.entries) - 1
		if p.pending || last < 0 || p.entries[last].kind != entryAssistant {
			p.entries = append(p.entries, entry{kind: entryAssistant, text: ev.Text})
			p.pending = false
			return
		}
		p.entries[last].text = ev.Text
		p.entries[last].rendered = ""

	case dispatch.EventError:
		p.entries = append(p.entries, entry{kind: entryError, text: ev.Text})
		p.pending = false
		p.state = dispatch.StateFailed
	}
}

// reply returns the latest assistant text, or "".
func (p *panel) reply() string {
	for i := len(p.entries) - 1; i >= 0; i-- {
		if p.entries[i].kind == entryAssistant {
			return p.entries[i].text
		}
	}
	return ""
}

func (p *panel) clear() {
	p.entries = nil
	p.typing = false
	p.pending = false
	p.state = ""
}

// lines renders every entry wrapped to width. Replies still streaming are
// shown raw; finished ones go through markdown.
func (p *panel) lines(width int, s styles, md *mdCache) []string {
	if width < 1 {
		width = 1
	}
	var out []string
	wrap := lipgloss.NewStyle().Width(width)
	for i := range p.entries {
		e := &p.entries[i]
		var block string
		switch e.kind {
		case entryUser:
			text := e.text
			for _, a := range e.attachments {
				text += "\n📎 " + a
			}
			block = s.user.Inherit(wrap).Render("› " + text)
		case entryError:
			block = s.err.Inherit(wrap).Render("✗ " + e.text)
		case entryAssistant:
			streaming := p.typing && i == len(p.entries)-1
			switch {
			case streaming || md == nil:
				block = s.assistant.Inherit(wrap).Render(e.text)
			case e.rendered != "" && e.renderedWidth == width:
				block = e.rendered
			default:
				e.rendered = md.get(width).Render(e.text)
				e.renderedWidth = width
				block = e.rendered
			}
		}
		out = append(out, strings.Split(block, "\n")...)
		if i < len(p.entries)-1 {
			out = append(out, "")
		}
	}
	return out
}

// view draws the panel in a bordered box of exactly width x height cells,
// keeping the newest lines when the history does not fit.
func (p *panel) view(width, height int, active bool, s styles, md *mdCache, spin string) string {
	box := s.panel
	if active {
		box = s.panelActive
	}
	borderW := box.GetHorizontalBorderSize()
	innerW := width - box.GetHorizontalFrameSize()
	innerH := height - box.GetVerticalFrameSize()
	if innerW < 4 || innerH < 2 {
		return ""
	}

	header := s.title.Render(truncate(p.title, innerW-3))
	switch {
	case p.typing:
		header += " " + spin
	case p.state == dispatch.StateComplete:
		header += " " + s.ok.Render("✓")
	case p.state == dispatch.StateFailed:
		header += " " + s.err.Render("✗")
	}

	body := p.lines(innerW, s, md)
	room := innerH - 1
	if len(body) > room {
		body = body[len(body)-room:]
	}
	if len(body) == 0 {
		body = []string{s.dim.Render("waiting for a message")}
	}

	content := header + "\n" + strings.Join(body, "\n")
	return box.Width(width - borderW).Height(innerH).MaxHeight(height).Render(content)
}

// mdCache keeps one markdown renderer per wrap width.
type mdCache struct {
	base    string
	syntax  string
	byWidth map[int]*components.MarkdownRenderer
}

func newMDCache(base, syntax string) *mdCache {
	return &mdCache{base: base, syntax: syntax, byWidth: make(map[int]*components.MarkdownRenderer)}
}

func (c *mdCache) get(width int) *components.MarkdownRenderer {
	r, ok := c.byWidth[width]
	if !ok {
		r = components.NewMarkdownRenderer(width, c.base, c.syntax)
		c.byWidth[width] = r
	}
	return r
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
