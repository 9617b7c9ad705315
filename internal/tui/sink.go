package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dhanuzh/polychat/internal/dispatch"
)

// eventMsg carries one sink call into the update loop.
type eventMsg struct {
	dispatch.Event
	Focused bool
}

// fanOutDoneMsg follows the last event of a grid send.
type fanOutDoneMsg struct {
	Outcomes []dispatch.Outcome
	Err      error
}

// chatDoneMsg follows the last event of a focused send.
type chatDoneMsg struct {
	Outcome dispatch.Outcome
	Err     error
}

// channelSink posts dispatch events to the program's event channel. Posts
// give up once done is closed so dispatch goroutines never block on a
// program that has quit.
type channelSink struct {
	ch      chan<- tea.Msg
	done    <-chan struct{}
	focused bool
}

func (s channelSink) post(msg tea.Msg) {
	select {
	case s.ch <- msg:
	case <-s.done:
	}
}

func (s channelSink) emit(ev dispatch.Event) {
	s.post(eventMsg{Event: ev, Focused: s.focused})
}

// sink returns the dispatch.Sink view of s.
func (s channelSink) sink() dispatch.Sink {
	return dispatch.EventFunc(s.emit)
}

// waitForStream blocks for the next message posted by a dispatch goroutine.
func waitForStream(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}
