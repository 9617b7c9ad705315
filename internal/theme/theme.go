package theme

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the color scheme for the terminal grid.
type Theme struct {
	Name string
	Type string // "dark" or "light"

	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Text      lipgloss.Color
	TextMuted lipgloss.Color
	TextDim   lipgloss.Color

	Background      lipgloss.Color
	Surface         lipgloss.Color
	Border          lipgloss.Color
	BorderHighlight lipgloss.Color

	User      lipgloss.Color
	Assistant lipgloss.Color

	// SyntaxTheme names the chroma style used for fenced code.
	SyntaxTheme string
	// MarkdownTheme selects the glamour base style.
	MarkdownTheme string
}

// DefaultName is used when no theme is configured.
const DefaultName = "catppuccin-mocha"

var builtins = map[string]func() *Theme{
	"catppuccin-mocha": CatppuccinMocha,
	"catppuccin-latte": CatppuccinLatte,
	"dracula":          Dracula,
	"tokyo-night":      TokyoNight,
}

// aliases maps the short names accepted in config to a builtin.
var aliases = map[string]string{
	"dark":       "catppuccin-mocha",
	"catppuccin": "catppuccin-mocha",
	"light":      "catppuccin-latte",
}

// Lookup returns the named theme. Unknown names fall back to the default
// and ok is false.
func Lookup(name string) (t *Theme, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, found := aliases[name]; found {
		name = alias
	}
	if ctor, found := builtins[name]; found {
		return ctor(), true
	}
	return Default(), false
}

// Names returns the builtin theme names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the default theme (Catppuccin Mocha)
func Default() *Theme {
	return CatppuccinMocha()
}

func CatppuccinMocha() *Theme {
	return &Theme{
		Name: "catppuccin-mocha",
		Type: "dark",

		Primary: lipgloss.Color("#CBA6F7"), // Mauve
		Success: lipgloss.Color("#A6E3A1"),
		Warning: lipgloss.Color("#F9E2AF"),
		Error:   lipgloss.Color("#F38BA8"),
		Info:    lipgloss.Color("#89DCEB"),

		Text:      lipgloss.Color("#CDD6F4"),
		TextMuted: lipgloss.Color("#A6ADC8"),
		TextDim:   lipgloss.Color("#6C7086"),

		Background:      lipgloss.Color("#1E1E2E"),
		Surface:         lipgloss.Color("#313244"),
		Border:          lipgloss.Color("#45475A"),
		BorderHighlight: lipgloss.Color("#CBA6F7"),

		User:      lipgloss.Color("#89B4FA"),
		Assistant: lipgloss.Color("#CDD6F4"),

		SyntaxTheme:   "monokai",
		MarkdownTheme: "dark",
	}
}

func CatppuccinLatte() *Theme {
	return &Theme{
		Name: "catppuccin-latte",
		Type: "light",

		Primary: lipgloss.Color("#8839EF"),
		Success: lipgloss.Color("#40A02B"),
		Warning: lipgloss.Color("#DF8E1D"),
		Error:   lipgloss.Color("#D20F39"),
		Info:    lipgloss.Color("#04A5E5"),

		Text:      lipgloss.Color("#4C4F69"),
		TextMuted: lipgloss.Color("#6C6F85"),
		TextDim:   lipgloss.Color("#9CA0B0"),

		Background:      lipgloss.Color("#EFF1F5"),
		Surface:         lipgloss.Color("#E6E9EF"),
		Border:          lipgloss.Color("#ACB0BE"),
		BorderHighlight: lipgloss.Color("#8839EF"),

		User:      lipgloss.Color("#1E66F5"),
		Assistant: lipgloss.Color("#4C4F69"),

		SyntaxTheme:   "github",
		MarkdownTheme: "light",
	}
}

func Dracula() *Theme {
	return &Theme{
		Name: "dracula",
		Type: "dark",

		Primary: lipgloss.Color("#BD93F9"),
		Success: lipgloss.Color("#50FA7B"),
		Warning: lipgloss.Color("#F1FA8C"),
		Error:   lipgloss.Color("#FF5555"),
		Info:    lipgloss.Color("#8BE9FD"),

		Text:      lipgloss.Color("#F8F8F2"),
		TextMuted: lipgloss.Color("#6272A4"),
		TextDim:   lipgloss.Color("#44475A"),

		Background:      lipgloss.Color("#282A36"),
		Surface:         lipgloss.Color("#44475A"),
		Border:          lipgloss.Color("#6272A4"),
		BorderHighlight: lipgloss.Color("#BD93F9"),

		User:      lipgloss.Color("#8BE9FD"),
		Assistant: lipgloss.Color("#F8F8F2"),

		SyntaxTheme:   "dracula",
		MarkdownTheme: "dracula",
	}
}

func TokyoNight() *Theme {
	return &Theme{
		Name: "tokyo-night",
		Type: "dark",

		Primary: lipgloss.Color("#BB9AF7"),
		Success: lipgloss.Color("#9ECE6A"),
		Warning: lipgloss.Color("#E0AF68"),
		Error:   lipgloss.Color("#F7768E"),
		Info:    lipgloss.Color("#7DCFFF"),

		Text:      lipgloss.Color("#C0CAF5"),
		TextMuted: lipgloss.Color("#565F89"),
		TextDim:   lipgloss.Color("#414868"),

		Background:      lipgloss.Color("#1A1B26"),
		Surface:         lipgloss.Color("#24283B"),
		Border:          lipgloss.Color("#414868"),
		BorderHighlight: lipgloss.Color("#BB9AF7"),

		User:      lipgloss.Color("#7AA2F7"),
		Assistant: lipgloss.Color("#C0CAF5"),

		SyntaxTheme:   "monokai",
		MarkdownTheme: "dark",
	}
}
