package components

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

// MarkdownRenderer renders assistant replies for a panel of a given width.
type MarkdownRenderer struct {
	renderer    *glamour.TermRenderer
	width       int
	base        string
	syntaxTheme string
}

func boolPtr(b bool) *bool    { return &b }
func uintPtr(u uint) *uint    { return &u }
func strPtr(s string) *string { return &s }

// panelStyle strips glamour's document margins so replies sit flush inside
// a bordered panel.
func panelStyle(base ansi.StyleConfig, syntaxTheme string) ansi.StyleConfig {
	s := base

	s.Document.Margin = uintPtr(0)
	s.Document.Indent = uintPtr(0)
	s.Document.BlockPrefix = ""
	s.Document.BlockSuffix = ""
	s.Paragraph.Margin = uintPtr(0)
	s.Paragraph.Indent = uintPtr(0)

	s.H1.Bold = boolPtr(true)
	s.H1.Color = strPtr("#CBA6F7")
	s.H1.Prefix = ""
	s.H1.Suffix = ""
	s.H1.Margin = uintPtr(0)
	s.H2.Bold = boolPtr(true)
	s.H2.Color = strPtr("#89B4FA")
	s.H2.Margin = uintPtr(0)
	s.H3.Bold = boolPtr(true)
	s.H3.Color = strPtr("#A6E3A1")
	s.H3.Margin = uintPtr(0)

	s.List.LevelIndent = 2
	s.Item.Prefix = "• "
	s.Code.Color = strPtr("#F38BA8")

	s.BlockQuote.IndentToken = strPtr("┃ ")
	s.BlockQuote.Italic = boolPtr(true)

	s.CodeBlock.Margin = uintPtr(0)
	s.CodeBlock.Indent = uintPtr(0)
	if syntaxTheme != "" {
		s.CodeBlock.Theme = syntaxTheme
	}
	return s
}

func baseStyle(name string) ansi.StyleConfig {
	switch name {
	case "dracula":
		return styles.DraculaStyleConfig
	case "light":
		return styles.LightStyleConfig
	case "notty":
		return styles.NoTTYStyleConfig
	default:
		return styles.DarkStyleConfig
	}
}

// NewMarkdownRenderer creates a renderer wrapping at width. base selects the
// glamour style (dark, light, dracula, notty).
func NewMarkdownRenderer(width int, base, syntaxTheme string) *MarkdownRenderer {
	if width < 10 {
		width = 10
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(panelStyle(baseStyle(base), syntaxTheme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Fallback: plain word-wrap only
		renderer, _ = glamour.NewTermRenderer(glamour.WithWordWrap(width))
	}
	return &MarkdownRenderer{renderer: renderer, width: width, base: base, syntaxTheme: syntaxTheme}
}

// Width returns the wrap width.
func (mr *MarkdownRenderer) Width() int {
	return mr.width
}

// Render returns the styled markdown, or the input unchanged if glamour fails.
func (mr *MarkdownRenderer) Render(markdown string) string {
	if mr.renderer == nil {
		return markdown
	}
	rendered, err := mr.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.Trim(rendered, "\n")
}

// SetWidth rebuilds the renderer for a new width.
func (mr *MarkdownRenderer) SetWidth(width int) {
	if width == mr.width {
		return
	}
	*mr = *NewMarkdownRenderer(width, mr.base, mr.syntaxTheme)
}
