package tui

import (
	"regexp"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// oscColor matches the rgb payload of an OSC 11 reply, e.g. 0000/0000/0000.
var oscColor = regexp.MustCompile(`\d{1,4}/\d{4}/\d{4}`)

// filterOSCSequences drops terminal colour-query replies that arrive as
// key presses and would otherwise be typed into the input.
func filterOSCSequences(_ tea.Model, msg tea.Msg) tea.Msg {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return msg
	}
	str := key.String()
	if oscColor.MatchString(str) ||
		strings.HasPrefix(str, "]11;") ||
		strings.HasPrefix(str, "rgb:") ||
		strings.Contains(str, ";rgb:") {
		return nil
	}
	return msg
}
