package dispatch

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink receives the visible side of a dispatch for one model panel.
// Implementations are called from several dispatch goroutines at once and
// must be safe for concurrent use; calls for a single model arrive in order.
type Sink interface {
	BeginTyping(modelID string)
	EndTyping(modelID string)
	// UpdateAssistantText replaces the model's in-progress reply with text.
	UpdateAssistantText(modelID, text string)
	AppendUserMessage(modelID, text string, attachments []Attachment)
	AppendError(modelID, text string)
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Category returns "image" for image MIME types and "file" otherwise.
func (a Attachment) Category() string {
	if strings.HasPrefix(strings.ToLower(a.MimeType), "image/") {
		return "image"
	}
	return "file"
}

// LoadAttachment reads path into an Attachment. The MIME type comes from the
// extension, or from the content when the extension is unknown.
func LoadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to attach %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return Attachment{Name: filepath.Base(path), MimeType: mimeType, Data: data}, nil
}

// EventKind names a sink call when it is serialized.
type EventKind string

const (
	EventTypingStart EventKind = "typing_start"
	EventTypingEnd   EventKind = "typing_end"
	EventUser        EventKind = "user"
	EventAssistant   EventKind = "assistant"
	EventError       EventKind = "error"
	EventDone        EventKind = "done"
	EventNotice      EventKind = "notice"
)

// Event is one sink call as data, for front-ends that ship updates over a
// wire or a channel.
type Event struct {
	Kind        EventKind `json:"type"`
	Model       string    `json:"model,omitempty"`
	Text        string    `json:"text,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// EventFunc adapts a function receiving events to the Sink interface.
type EventFunc func(Event)

func (f EventFunc) BeginTyping(modelID string) {
	f(Event{Kind: EventTypingStart, Model: modelID})
}

func (f EventFunc) EndTyping(modelID string) {
	f(Event{Kind: EventTypingEnd, Model: modelID})
}

func (f EventFunc) UpdateAssistantText(modelID, text string) {
	f(Event{Kind: EventAssistant, Model: modelID, Text: text})
}

func (f EventFunc) AppendUserMessage(modelID, text string, attachments []Attachment) {
	ev := Event{Kind: EventUser, Model: modelID, Text: text}
	for _, a := range attachments {
		ev.Attachments = append(ev.Attachments, a.Name)
	}
	f(ev)
}

func (f EventFunc) AppendError(modelID, text string) {
	f(Event{Kind: EventError, Model: modelID, Text: text})
}

// Recorder is a Sink that keeps every call in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) BeginTyping(modelID string) { EventFunc(r.emit).BeginTyping(modelID) }
func (r *Recorder) EndTyping(modelID string)   { EventFunc(r.emit).EndTyping(modelID) }

func (r *Recorder) UpdateAssistantText(modelID, text string) {
	EventFunc(r.emit).UpdateAssistantText(modelID, text)
}

func (r *Recorder) AppendUserMessage(modelID, text string, attachments []Attachment) {
	EventFunc(r.emit).AppendUserMessage(modelID, text, attachments)
}

func (r *Recorder) AppendError(modelID, text string) {
	EventFunc(r.emit).AppendError(modelID, text)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForModel returns the events for one model in the order they arrived.
func (r *Recorder) ForModel(modelID string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Model == modelID {
			out = append(out, ev)
		}
	}
	return out
}

// Text returns the last assistant text shown for modelID.
func (r *Recorder) Text(modelID string) string {
	text := ""
	for _, ev := range r.ForModel(modelID) {
		if ev.Kind == EventAssistant {
			text = ev.Text
		}
	}
	return text
}

// Errors returns the error texts shown for modelID.
func (r *Recorder) Errors(modelID string) []string {
	var out []string
	for _, ev := range r.ForModel(modelID) {
		if ev.Kind == EventError {
			out = append(out, ev.Text)
		}
	}
	return out
}
