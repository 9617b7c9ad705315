package tui

import (
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/session"
)

type toastKind int

const (
	toastInfo toastKind = iota
	toastSuccess
	toastWarning
	toastError
)

// toast is a transient notice shown in the top-right corner.
type toast struct {
	message string
	kind    toastKind
	expiry  time.Time
}

// toastDismissMsg is fired by the timer to remove expired toasts.
type toastDismissMsg struct{}

func toastTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return toastDismissMsg{}
	})
}

// showToast adds a toast and returns a Cmd to dismiss it.
func (m *Model) showToast(msg string, kind toastKind, dur time.Duration) tea.Cmd {
	if dur == 0 {
		dur = 4 * time.Second
	}
	m.toasts = append(m.toasts, toast{
		message: msg,
		kind:    kind,
		expiry:  time.Now().Add(dur),
	})
	return toastTickCmd(dur + 100*time.Millisecond)
}

// notifyErr shows err as a toast. Input problems are warnings, anything
// else is an error.
func (m *Model) notifyErr(err error) tea.Cmd {
	var verr *dispatch.ValidationError
	if errors.As(err, &verr) || errors.Is(err, session.ErrBusy) {
		return m.showToast(err.Error(), toastWarning, 0)
	}
	return m.showToast(err.Error(), toastError, 0)
}

func (m *Model) pruneToasts() {
	now := time.Now()
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.expiry) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

func (m *Model) renderToasts() string {
	if len(m.toasts) == 0 {
		return ""
	}

	t := m.styles.theme
	var lines []string
	for _, item := range m.toasts {
		var bg lipgloss.Color
		switch item.kind {
		case toastSuccess:
			bg = t.Success
		case toastWarning:
			bg = t.Warning
		case toastError:
			bg = t.Error
		default:
			bg = t.Primary
		}
		style := lipgloss.NewStyle().
			Foreground(t.Background).
			Background(bg).
			Padding(0, 2).
			Bold(true)
		lines = append(lines, style.Render(item.message))
	}
	return strings.Join(lines, "\n")
}

// injectToasts overlays the toast stack on the top-right of screen.
func (m *Model) injectToasts(screen string) string {
	block := m.renderToasts()
	if block == "" {
		return screen
	}

	toastLines := strings.Split(block, "\n")
	screenLines := strings.Split(screen, "\n")

	maxW := 0
	for _, l := range toastLines {
		if w := lipgloss.Width(l); w > maxW {
			maxW = w
		}
	}
	startX := m.width - maxW - 2
	if startX < 0 {
		startX = 0
	}

	for i := range screenLines {
		if i >= len(toastLines) {
			break
		}
		line := screenLines[i]
		if w := lipgloss.Width(line); w > startX {
			line = truncateANSI(line, startX)
		} else {
			line += strings.Repeat(" ", startX-w)
		}
		screenLines[i] = line + toastLines[i]
	}
	return strings.Join(screenLines, "\n")
}

// truncateANSI cuts a styled line to width cells.
func truncateANSI(line string, width int) string {
	return lipgloss.NewStyle().MaxWidth(width).Render(line)
}
