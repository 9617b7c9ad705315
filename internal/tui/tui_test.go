package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/polychat/internal/config"
	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
	"github.com/Dhanuzh/polychat/internal/session"
)

const (
	gpt      = "openai/gpt-4o"
	deepseek = "deepseek/deepseek-chat"
)

// replyGateway cannot stream; every blocking call answers with the model id.
type replyGateway struct{}

func (replyGateway) Name() string { return "reply" }

func (replyGateway) Chat(ctx context.Context, req *provider.ChatRequest) (any, error) {
	return "reply from " + req.Model, nil
}

func (replyGateway) ChatStream(ctx context.Context, req *provider.ChatRequest) (provider.Stream, error) {
	return nil, provider.ErrNotStreamable
}

func newTestModel(t *testing.T) Model {
	t.Helper()
	reg := provider.NewRegistry()
	d := dispatch.NewDispatcher(replyGateway{}, reg, dispatch.Options{MaxTokens: 100, Temperature: 0.5})

	sel := dispatch.NewSelection()
	for _, id := range reg.ListChatModelIDs() {
		if id != gpt && id != deepseek {
			sel.SetEnabled(id, false)
		}
	}

	m := New(Options{
		Registry:    reg,
		Coordinator: dispatch.NewCoordinator(d, config.DispatchConfig{}),
		Selection:   sel,
		Session:     session.New(d, reg),
	})
	t.Cleanup(m.shutdown)
	m, _ = update(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeAndEnter(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	return update(m, tea.KeyMsg{Type: tea.KeyEnter})
}

// runSend executes a send command and feeds everything it posts back into
// the model until the completion message arrives.
func runSend(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-m.events:
			m, _ = update(m, msg)
			switch msg.(type) {
			case fanOutDoneMsg, chatDoneMsg:
				return m
			}
		case <-timeout:
			t.Fatal("send never finished")
		}
	}
}

func TestChannelSinkRouting(t *testing.T) {
	ch := make(chan tea.Msg, 4)
	done := make(chan struct{})

	channelSink{ch: ch, done: done}.sink().BeginTyping(gpt)
	channelSink{ch: ch, done: done, focused: true}.sink().UpdateAssistantText(gpt, "hi")

	first := (<-ch).(eventMsg)
	assert.Equal(t, dispatch.EventTypingStart, first.Kind)
	assert.Equal(t, gpt, first.Model)
	assert.False(t, first.Focused)

	second := (<-ch).(eventMsg)
	assert.Equal(t, dispatch.EventAssistant, second.Kind)
	assert.Equal(t, "hi", second.Text)
	assert.True(t, second.Focused)
}

func TestChannelSinkReleasedOnShutdown(t *testing.T) {
	ch := make(chan tea.Msg) // nobody reads
	done := make(chan struct{})
	close(done)

	finished := make(chan struct{})
	go func() {
		channelSink{ch: ch, done: done}.sink().AppendError(gpt, "boom")
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("sink blocked after shutdown")
	}
}

func TestPanelApply(t *testing.T) {
	p := newPanel(gpt, "GPT-4o")
	for _, ev := range []dispatch.Event{
		{Kind: dispatch.EventUser, Text: "hi"},
		{Kind: dispatch.EventTypingStart},
		{Kind: dispatch.EventAssistant, Text: "He"},
		{Kind: dispatch.EventAssistant, Text: "Hello"},
		{Kind: dispatch.EventTypingEnd},
		{Kind: dispatch.EventAssistant, Text: "Hello!"},
	} {
		p.apply(ev)
	}
	require.Len(t, p.entries, 2)
	assert.Equal(t, "Hello!", p.reply())
	assert.Equal(t, dispatch.StateComplete, p.state)
	assert.False(t, p.typing)

	// A second round opens a new reply entry, then fails.
	p.apply(dispatch.Event{Kind: dispatch.EventUser, Text: "again"})
	p.apply(dispatch.Event{Kind: dispatch.EventTypingStart})
	p.apply(dispatch.Event{Kind: dispatch.EventTypingEnd})
	p.apply(dispatch.Event{Kind: dispatch.EventError, Text: "Error: boom"})
	assert.Len(t, p.entries, 4)
	assert.Equal(t, dispatch.StateFailed, p.state)
	assert.Equal(t, "Hello!", p.reply())
}

func TestGridSend(t *testing.T) {
	m := newTestModel(t)

	m, cmd := typeAndEnter(m, "hello")
	assert.True(t, m.gridBusy)
	assert.Empty(t, m.input.Value())
	m = runSend(t, m, cmd)

	assert.False(t, m.gridBusy)
	assert.Equal(t, "reply from "+gpt, m.panels[gpt].reply())
	assert.Equal(t, "reply from "+deepseek, m.panels[deepseek].reply())
	assert.Len(t, m.panels, 2, "disabled models get no panel")
	assert.Equal(t, []string{"hello"}, m.history.entries)
}

func TestGridSendValidation(t *testing.T) {
	m := newTestModel(t)

	m, _ = typeAndEnter(m, "   ")
	assert.False(t, m.gridBusy)
	require.Len(t, m.toasts, 1)
	assert.Equal(t, "enter a message", m.toasts[0].message)
	assert.Equal(t, toastWarning, m.toasts[0].kind)

	m.opts.Selection.SetEnabled(gpt, false)
	m.opts.Selection.SetEnabled(deepseek, false)
	m, _ = typeAndEnter(m, "hello")
	assert.False(t, m.gridBusy)
	assert.Equal(t, "select at least one model", m.toasts[len(m.toasts)-1].message)
}

func TestGridSendWhileBusy(t *testing.T) {
	m := newTestModel(t)
	m.gridBusy = true

	m, _ = typeAndEnter(m, "hello")
	assert.Equal(t, "hello", m.input.Value(), "input is kept for a later send")
	require.NotEmpty(t, m.toasts)
}

func TestAttachmentOnlySend(t *testing.T) {
	m := newTestModel(t)
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))

	m, _ = typeAndEnter(m, "/attach "+path)
	require.Len(t, m.attachments, 1)
	assert.Equal(t, "image", m.attachments[0].Category())

	m, cmd := typeAndEnter(m, "")
	m = runSend(t, m, cmd)
	assert.Empty(t, m.attachments)
	assert.Equal(t, dispatch.ImagesUnsupported, m.panels[gpt].reply())
	assert.Equal(t, []string{"cat.png"}, m.panels[gpt].entries[0].attachments)
}

func TestFocusedChat(t *testing.T) {
	m := newTestModel(t)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, modeFocused, m.mode)
	assert.Equal(t, gpt, m.opts.Session.Model())

	for _, msg := range []string{"one", "two"} {
		var cmd tea.Cmd
		m, cmd = typeAndEnter(m, msg)
		m = runSend(t, m, cmd)
	}
	assert.False(t, m.focusBusy)
	assert.Equal(t, "reply from "+gpt, m.focus.reply())
	assert.Len(t, m.opts.Session.Turns(), 5)
	assert.Empty(t, m.panels, "focused replies stay out of the grid")

	m, _ = typeAndEnter(m, "/reset")
	assert.Empty(t, m.focus.entries)
	assert.Len(t, m.opts.Session.Turns(), 1)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, modeGrid, m.mode)
}

func TestFocusSwitchesModel(t *testing.T) {
	m := newTestModel(t)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	m, cmd := typeAndEnter(m, "one")
	m = runSend(t, m, cmd)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlN})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})

	assert.Equal(t, deepseek, m.opts.Session.Model())
	assert.Empty(t, m.focus.entries)
	assert.Len(t, m.opts.Session.Turns(), 1)
}

func TestFocusedRejectsWhileBusy(t *testing.T) {
	m := newTestModel(t)
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	m.focusBusy = true

	m, _ = typeAndEnter(m, "hello")
	require.NotEmpty(t, m.toasts)
	assert.Equal(t, session.ErrBusy.Error(), m.toasts[len(m.toasts)-1].message)
	assert.Equal(t, "hello", m.input.Value())
}

func TestPicker(t *testing.T) {
	m := newTestModel(t)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlT})
	require.NotNil(t, m.picker)
	assert.Contains(t, m.View(), "Models")
	assert.Contains(t, m.View(), "space toggle")

	// gpt-4o is first in the catalogue.
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	assert.False(t, m.opts.Selection.Enabled(gpt))

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, m.picker)
	assert.Equal(t, []string{deepseek}, m.visibleIDs())
}

func TestUnknownCommand(t *testing.T) {
	m := newTestModel(t)
	m, _ = typeAndEnter(m, "/dance")
	require.Len(t, m.toasts, 1)
	assert.True(t, strings.HasPrefix(m.toasts[0].message, "unknown command"))
}

func TestViewShowsPanels(t *testing.T) {
	m := newTestModel(t)
	view := m.View()
	assert.Contains(t, view, "polychat")
	assert.Contains(t, view, "GPT-4o")
	assert.Contains(t, view, "DeepSeek V3")
}

func TestPromptHistory(t *testing.T) {
	h := &promptHistory{}
	assert.Equal(t, "draft", h.up("draft"), "empty history keeps the input")

	h.append("one")
	h.append("two")
	h.append("two")
	assert.Equal(t, []string{"one", "two"}, h.entries)

	assert.Equal(t, "two", h.up(""))
	assert.Equal(t, "one", h.up(""))
	assert.Equal(t, "one", h.up(""))
	assert.True(t, h.navigating())
	assert.Equal(t, "two", h.down())
	assert.Equal(t, "", h.down())
	assert.False(t, h.navigating())
}

func TestFilterOSCSequences(t *testing.T) {
	leak := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("]11;rgb:0000/0000/0000")}
	assert.Nil(t, filterOSCSequences(nil, leak))

	typed := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hello")}
	assert.Equal(t, typed, filterOSCSequences(nil, typed))

	size := tea.WindowSizeMsg{Width: 10, Height: 5}
	assert.Equal(t, size, filterOSCSequences(nil, size))
}
