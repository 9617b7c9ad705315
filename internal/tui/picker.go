package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// picker is the model enable/disable overlay. Toggling only changes which
// models the next send targets; panel contents are kept.
type picker struct {
	ids    []string
	cursor int
}

func (m *Model) openPicker() {
	m.picker = &picker{ids: m.opts.Registry.ListChatModelIDs()}
}

func (m *Model) closePicker() {
	m.picker = nil
	if n := len(m.visibleIDs()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	m.rowOffset = 0
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.picker
	switch msg.String() {
	case "ctrl+c":
		m.shutdown()
		return m, tea.Quit
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down", "j":
		if p.cursor < len(p.ids)-1 {
			p.cursor++
		}
	case " ", "space", "x":
		if len(p.ids) > 0 {
			m.opts.Selection.Toggle(p.ids[p.cursor])
		}
	case "a":
		for _, id := range p.ids {
			m.opts.Selection.SetEnabled(id, true)
		}
	case "n":
		for _, id := range p.ids {
			m.opts.Selection.SetEnabled(id, false)
		}
	case "esc", "enter", "q", "ctrl+t":
		m.closePicker()
	}
	return m, nil
}

func (m Model) renderPicker() string {
	s := m.styles
	p := m.picker

	var b strings.Builder
	b.WriteString(s.title.Render("Models"))
	b.WriteString(s.dim.Render(fmt.Sprintf("  %d enabled", len(m.visibleIDs()))))
	b.WriteString("\n\n")

	// Keep the cursor inside a window of at most 15 rows.
	const window = 15
	start := 0
	if p.cursor >= window {
		start = p.cursor - window + 1
	}
	end := min(start+window, len(p.ids))

	for i := start; i < end; i++ {
		id := p.ids[i]
		mark := s.dim.Render("[ ]")
		if m.opts.Selection.Enabled(id) {
			mark = s.ok.Render("[x]")
		}
		line := fmt.Sprintf("%s %-24s %s", mark, truncate(m.title(id), 24), s.dim.Render(id))
		if i == p.cursor {
			line = s.key.Render("›") + " " + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
	b.WriteString(s.dim.Render("space toggle · a all · n none · enter close"))

	return s.panelActive.Padding(1, 2).Render(b.String())
}
