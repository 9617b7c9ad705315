// Package earlyinit must be imported before github.com/charmbracelet/bubbletea.
// Its init records the terminal background for lipgloss up front, so
// bubbletea's own init never sends the OSC 11 colour query whose reply can
// leak into the input on some terminals (WSL2 in particular).
package earlyinit

import (
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dhanuzh/polychat/internal/theme"
)

func init() {
	lipgloss.SetHasDarkBackground(Dark(os.Getenv("POLYCHAT_THEME")))
}

// Dark reports whether the named theme wants a dark terminal. Unknown or
// empty names use the default theme.
func Dark(themeName string) bool {
	t, _ := theme.Lookup(themeName)
	return t.Type != "light"
}
