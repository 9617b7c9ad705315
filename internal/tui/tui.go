package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
	"github.com/Dhanuzh/polychat/internal/session"
	"github.com/Dhanuzh/polychat/internal/theme"
)

type mode int

const (
	modeGrid mode = iota
	modeFocused
)

const (
	minPanelWidth  = 38
	minPanelHeight = 8
	maxColumns     = 3

	headerHeight = 1
	inputHeight  = 3
	footerHeight = inputHeight + 2 + 1 // textarea, its border, hints
)

// Options wires the TUI to the services built by the CLI.
type Options struct {
	Registry    *provider.Registry
	Coordinator *dispatch.Coordinator
	Selection   *dispatch.Selection
	Session     *session.Session
	Theme       string
	// Focus opens the focused chat on this model at startup.
	Focus string
}

type styles struct {
	theme *theme.Theme

	panel       lipgloss.Style
	panelActive lipgloss.Style
	title       lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	err         lipgloss.Style
	ok          lipgloss.Style
	dim         lipgloss.Style
	badge       lipgloss.Style
	key         lipgloss.Style
	input       lipgloss.Style
}

func newStyles(t *theme.Theme) styles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)
	return styles{
		theme:       t,
		panel:       box,
		panelActive: box.BorderForeground(t.BorderHighlight),
		title:       lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		user:        lipgloss.NewStyle().Foreground(t.User),
		assistant:   lipgloss.NewStyle().Foreground(t.Assistant),
		err:         lipgloss.NewStyle().Foreground(t.Error),
		ok:          lipgloss.NewStyle().Foreground(t.Success),
		dim:         lipgloss.NewStyle().Foreground(t.TextMuted),
		badge:       lipgloss.NewStyle().Foreground(t.Background).Background(t.Primary).Bold(true).Padding(0, 1),
		key:         lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		input:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Border),
	}
}

// Model is the Bubble Tea model for the multi-model console.
type Model struct {
	opts Options

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan tea.Msg
	done      chan struct{}
	closeOnce *sync.Once

	styles   styles
	md       *mdCache
	input    textarea.Model
	spinner  spinner.Model
	viewport viewport.Model
	history  *promptHistory

	width  int
	height int
	mode   mode

	panels    map[string]*panel
	cursor    int
	rowOffset int
	gridBusy  bool

	focus     *panel
	focusBusy bool

	attachments []dispatch.Attachment
	picker      *picker
	toasts      []toast
}

// New creates the TUI model.
func New(opts Options) Model {
	t, _ := theme.Lookup(opts.Theme)

	ta := textarea.New()
	ta.Placeholder = "Message every enabled model... (Enter to send, / for commands)"
	ta.Focus()
	ta.CharLimit = 50000
	ta.SetHeight(inputHeight)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle().Background(t.Surface)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(t.Primary)

	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan tea.Msg, 256),
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
		styles:    newStyles(t),
		md:        newMDCache(t.MarkdownTheme, t.SyntaxTheme),
		input:     ta,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
		history:   &promptHistory{},
		panels:    make(map[string]*panel),
		focus:     newPanel("", ""),
	}

	if opts.Focus != "" {
		if err := opts.Session.SelectModel(opts.Focus); err != nil {
			log.Warn().Err(err).Str("model", opts.Focus).Msg("cannot open focused chat")
		} else {
			m.focus = newPanel(opts.Focus, m.title(opts.Focus))
			m.mode = modeFocused
			for i, id := range m.visibleIDs() {
				if id == opts.Focus {
					m.cursor = i
				}
			}
		}
	}
	return m
}

// Run starts the program and blocks until the user quits.
func Run(opts Options) error {
	m := New(opts)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithFilter(filterOSCSequences)).Run()
	m.shutdown()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		waitForStream(m.events),
	)
}

// shutdown cancels in-flight dispatches and releases blocked sinks.
func (m Model) shutdown() {
	m.closeOnce.Do(func() {
		m.cancel()
		close(m.done)
	})
}

func (m Model) gridSink() channelSink {
	return channelSink{ch: m.events, done: m.done}
}

func (m Model) focusSink() channelSink {
	return channelSink{ch: m.events, done: m.done, focused: true}
}

func (m Model) title(id string) string {
	if d, ok := m.opts.Registry.GetModel(id); ok {
		return d.DisplayName()
	}
	return id
}

// visibleIDs returns the chat models currently enabled, in registry order.
func (m Model) visibleIDs() []string {
	return m.opts.Selection.Filter(m.opts.Registry.ListChatModelIDs())
}

func (m Model) panelFor(id string) *panel {
	p, ok := m.panels[id]
	if !ok {
		p = newPanel(id, m.title(id))
		m.panels[id] = p
	}
	return p
}

func (m Model) bodyHeight() int {
	h := m.height - headerHeight - footerHeight
	if h < minPanelHeight {
		h = minPanelHeight
	}
	return h
}

// gridShape returns the column count and how many panel rows fit on screen.
func (m Model) gridShape(n int) (cols, visibleRows, rows int) {
	cols = m.width / minPanelWidth
	if cols > maxColumns {
		cols = maxColumns
	}
	if cols > n {
		cols = n
	}
	if cols < 1 {
		cols = 1
	}
	rows = (n + cols - 1) / cols
	visibleRows = m.bodyHeight() / minPanelHeight
	if visibleRows < 1 {
		visibleRows = 1
	}
	if visibleRows > rows {
		visibleRows = rows
	}
	return cols, visibleRows, rows
}

func (m *Model) resize() {
	m.input.SetWidth(m.width - 2)
	m.viewport.Width = m.width
	m.viewport.Height = m.bodyHeight() - 1
	m.refreshFocus()
}

func (m *Model) refreshFocus() {
	width := m.viewport.Width - 2
	m.viewport.SetContent(strings.Join(m.focus.lines(width, m.styles, m.md), "\n"))
	m.viewport.GotoBottom()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		if msg.Focused {
			m.focus.apply(msg.Event)
			m.refreshFocus()
		} else {
			m.panelFor(msg.Model).apply(msg.Event)
		}
		return m, waitForStream(m.events)

	case fanOutDoneMsg:
		m.gridBusy = false
		cmds = append(cmds, waitForStream(m.events))
		if msg.Err != nil {
			cmds = append(cmds, m.notifyErr(msg.Err))
		} else if failed := countFailed(msg.Outcomes); failed > 0 {
			cmds = append(cmds, m.showToast(fmt.Sprintf("%d of %d models failed", failed, len(msg.Outcomes)), toastWarning, 0))
		}
		return m, tea.Batch(cmds...)

	case chatDoneMsg:
		m.focusBusy = false
		cmds = append(cmds, waitForStream(m.events))
		if msg.Err != nil {
			cmds = append(cmds, m.notifyErr(msg.Err))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case toastDismissMsg:
		m.pruneToasts()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func countFailed(outcomes []dispatch.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker != nil {
		return m.updatePicker(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		m.shutdown()
		return m, tea.Quit
	case "tab":
		return m.toggleMode()
	case "esc":
		if m.mode == modeFocused {
			m.mode = modeGrid
		}
		return m, nil
	case "ctrl+t":
		m.openPicker()
		return m, nil
	case "enter":
		return m.submit()
	case "ctrl+n", "alt+right":
		m.moveCursor(1)
		return m, nil
	case "ctrl+p", "alt+left":
		m.moveCursor(-1)
		return m, nil
	case "pgup":
		if m.mode == modeFocused {
			m.viewport.LineUp(m.viewport.Height / 2)
		} else if m.rowOffset > 0 {
			m.rowOffset--
		}
		return m, nil
	case "pgdown":
		if m.mode == modeFocused {
			m.viewport.LineDown(m.viewport.Height / 2)
		} else {
			_, visible, rows := m.gridShape(len(m.visibleIDs()))
			if m.rowOffset < rows-visible {
				m.rowOffset++
			}
		}
		return m, nil
	case "up":
		if m.input.Value() == "" || m.history.navigating() {
			m.input.SetValue(m.history.up(m.input.Value()))
			m.input.CursorEnd()
			return m, nil
		}
	case "down":
		if m.history.navigating() {
			m.input.SetValue(m.history.down())
			m.input.CursorEnd()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// moveCursor selects the next or previous panel and scrolls it into view.
func (m *Model) moveCursor(delta int) {
	ids := m.visibleIDs()
	if len(ids) == 0 {
		return
	}
	m.cursor = (m.cursor + delta + len(ids)) % len(ids)

	cols, visible, _ := m.gridShape(len(ids))
	row := m.cursor / cols
	if row < m.rowOffset {
		m.rowOffset = row
	}
	if row >= m.rowOffset+visible {
		m.rowOffset = row - visible + 1
	}
}

func (m Model) cursorID() string {
	ids := m.visibleIDs()
	if len(ids) == 0 {
		return ""
	}
	if m.cursor >= len(ids) {
		return ids[len(ids)-1]
	}
	return ids[m.cursor]
}

// toggleMode switches between the grid and the focused chat on the panel
// under the cursor. Picking a different model starts a new conversation.
func (m Model) toggleMode() (tea.Model, tea.Cmd) {
	if m.mode == modeFocused {
		m.mode = modeGrid
		return m, nil
	}

	target := m.cursorID()
	if target == "" {
		return m, m.notifyErr(&dispatch.ValidationError{Field: "models", Message: "select at least one model"})
	}
	if m.opts.Session.Model() != target {
		if err := m.opts.Session.SelectModel(target); err != nil {
			return m, m.notifyErr(err)
		}
		m.focus = newPanel(target, m.title(target))
	}
	m.mode = modeFocused
	m.refreshFocus()
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(input, "/") {
		m.input.Reset()
		return m.runCommand(input)
	}
	if m.mode == modeFocused {
		return m.sendFocused(input)
	}
	return m.sendGrid(input)
}

func (m Model) sendGrid(input string) (tea.Model, tea.Cmd) {
	if m.gridBusy {
		return m, m.showToast("replies are still streaming", toastWarning, 0)
	}
	req := dispatch.NewRequest(input, m.visibleIDs(), m.attachments...)
	if err := req.Validate(); err != nil {
		return m, m.notifyErr(err)
	}

	m.history.append(input)
	m.input.Reset()
	m.attachments = nil
	m.gridBusy = true

	sink := m.gridSink()
	coord, ctx := m.opts.Coordinator, m.ctx
	return m, func() tea.Msg {
		outcomes, err := coord.FanOut(ctx, req, sink.sink())
		sink.post(fanOutDoneMsg{Outcomes: outcomes, Err: err})
		return nil
	}
}

func (m Model) sendFocused(input string) (tea.Model, tea.Cmd) {
	if m.focusBusy {
		return m, m.notifyErr(session.ErrBusy)
	}
	if input == "" {
		return m, m.notifyErr(&dispatch.ValidationError{Field: "message", Message: "enter a message"})
	}

	m.history.append(input)
	m.input.Reset()
	m.focusBusy = true

	sink := m.focusSink()
	sess, ctx := m.opts.Session, m.ctx
	return m, func() tea.Msg {
		out, err := sess.Send(ctx, input, sink.sink())
		sink.post(chatDoneMsg{Outcome: out, Err: err})
		return nil
	}
}

func (m Model) runCommand(input string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		m.shutdown()
		return m, tea.Quit

	case "/models":
		m.openPicker()
		return m, nil

	case "/attach":
		if arg == "" {
			return m, m.showToast("usage: /attach <path>", toastWarning, 0)
		}
		att, err := dispatch.LoadAttachment(arg)
		if err != nil {
			return m, m.notifyErr(err)
		}
		m.attachments = append(m.attachments, att)
		return m, m.showToast("attached "+att.Name, toastInfo, 0)

	case "/clear":
		if m.mode == modeFocused {
			return m.resetFocused()
		}
		for _, p := range m.panels {
			p.clear()
		}
		m.attachments = nil
		return m, nil

	case "/reset":
		return m.resetFocused()

	case "/export":
		data, err := m.opts.Session.Export()
		if err != nil {
			return m, m.notifyErr(err)
		}
		path := arg
		if path == "" {
			path = fmt.Sprintf("polychat-%s.json", m.opts.Session.ID)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return m, m.notifyErr(err)
		}
		return m, m.showToast("exported to "+path, toastSuccess, 0)
	}

	return m, m.showToast("unknown command "+name, toastWarning, 0)
}

func (m Model) resetFocused() (tea.Model, tea.Cmd) {
	if err := m.opts.Session.Reset(); err != nil {
		return m, m.notifyErr(err)
	}
	m.focus.clear()
	m.refreshFocus()
	return m, m.showToast("conversation cleared", toastInfo, 0)
}

// ─── View ───────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "\n  " + m.spinner.View() + " Starting..."
	}

	var body string
	switch {
	case m.picker != nil:
		body = lipgloss.Place(m.width, m.bodyHeight(), lipgloss.Center, lipgloss.Center, m.renderPicker())
	case m.mode == modeFocused:
		body = m.renderFocused()
	default:
		body = m.renderGrid()
	}

	screen := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.styles.input.Width(m.width-2).Render(m.input.View()),
		m.renderHints(),
	)
	return m.injectToasts(screen)
}

func (m Model) renderHeader() string {
	s := m.styles
	parts := []string{s.badge.Render("polychat")}

	ids := m.visibleIDs()
	if m.mode == modeFocused {
		status := m.opts.Session.StatusManager().Get(m.opts.Session.ID)
		parts = append(parts, s.title.Render("focused · "+m.focus.title), s.dim.Render(string(status.Type)))
		if m.focusBusy {
			parts = append(parts, m.spinner.View())
		}
	} else {
		total := len(m.opts.Registry.ListChatModelIDs())
		parts = append(parts, s.title.Render(fmt.Sprintf("grid · %d/%d models", len(ids), total)))
		if m.gridBusy {
			parts = append(parts, m.spinner.View())
		}
	}
	if n := len(m.attachments); n > 0 {
		parts = append(parts, s.dim.Render(fmt.Sprintf("📎 %d", n)))
	}
	return truncateANSI(strings.Join(parts, " "), m.width)
}

func (m Model) renderHints() string {
	s := m.styles
	hint := func(k, label string) string { return s.key.Render(k) + " " + s.dim.Render(label) }
	hints := []string{
		hint("enter", "send"),
		hint("alt+enter", "newline"),
		hint("tab", "focus"),
		hint("ctrl+t", "models"),
		hint("ctrl+n/p", "move"),
		hint("/attach /clear /reset /export", ""),
		hint("ctrl+c", "quit"),
	}
	return truncateANSI(strings.Join(hints, "  "), m.width)
}

func (m Model) renderGrid() string {
	height := m.bodyHeight()
	ids := m.visibleIDs()
	if len(ids) == 0 {
		return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center,
			m.styles.dim.Render("No models enabled. Press ctrl+t to pick some."))
	}

	cols, visible, rows := m.gridShape(len(ids))
	offset := m.rowOffset
	if offset > rows-visible {
		offset = rows - visible
	}
	panelH := height / visible
	panelW := m.width / cols
	spin := m.spinner.View()

	var rowViews []string
	for r := offset; r < offset+visible; r++ {
		var cells []string
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if i >= len(ids) {
				break
			}
			w := panelW
			if c == cols-1 {
				w = m.width - panelW*(cols-1)
			}
			cells = append(cells, m.panelFor(ids[i]).view(w, panelH, i == m.cursor, m.styles, m.md, spin))
		}
		rowViews = append(rowViews, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.NewStyle().Height(height).MaxHeight(height).Render(lipgloss.JoinVertical(lipgloss.Left, rowViews...))
}

func (m Model) renderFocused() string {
	s := m.styles
	title := s.title.Render(m.focus.title)
	if m.focus.typing {
		title += " " + m.spinner.View()
	}
	if len(m.focus.entries) == 0 {
		m.viewport.SetContent(s.dim.Render("  Start the conversation. Tab returns to the grid."))
	}
	return lipgloss.NewStyle().Height(m.bodyHeight()).MaxHeight(m.bodyHeight()).
		Render(title + "\n" + m.viewport.View())
}
