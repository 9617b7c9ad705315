package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
)

// ErrBusy is returned while a reply is still pending.
var ErrBusy = errors.New("a reply is still pending")

// Dispatcher runs one model call. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, modelID, message string, history []provider.Message, attachments []dispatch.Attachment, sink dispatch.Sink) dispatch.Outcome
}

// Entry is one line of the visible transcript. Failed replies appear here
// but never in the conversation sent to the model.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a single-model chat that resends the whole conversation on
// every call. It is safe for concurrent use; at most one send is in flight.
type Session struct {
	ID        string
	CreatedAt time.Time

	dispatcher Dispatcher
	models     dispatch.Models
	status     *StatusManager

	mu           sync.Mutex
	state        StatusType
	model        *provider.ModelDescriptor
	conversation []provider.Message
	transcript   []Entry
}

// New creates a session with no model selected.
func New(d Dispatcher, models dispatch.Models) *Session {
	return newSession(uuid.New().String(), d, models, NewStatusManager())
}

func newSession(id string, d Dispatcher, models dispatch.Models, status *StatusManager) *Session {
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		dispatcher: d,
		models:     models,
		status:     status,
		state:      StatusNoModel,
	}
	status.Set(id, &Status{Type: StatusNoModel})
	return s
}

// StatusManager returns the manager this session reports to.
func (s *Session) StatusManager() *StatusManager {
	return s.status
}

// OnChange registers a callback for this session's status changes. Sessions
// sharing a store keep their own callbacks.
func (s *Session) OnChange(callback func(status *Status)) {
	s.status.Watch(s.ID, callback)
}

// SelectModel switches the session to id, clearing the conversation and
// seeding it with the model's system turn. Switching is refused while a
// reply is pending.
func (s *Session) SelectModel(id string) error {
	m, ok := s.models.GetModel(id)
	if !ok {
		return &dispatch.ValidationError{Field: "model", Message: fmt.Sprintf("unknown model %q", id)}
	}

	s.mu.Lock()
	if s.state == StatusAwaiting {
		s.mu.Unlock()
		return ErrBusy
	}
	s.model = m
	s.conversation = []provider.Message{{Role: provider.RoleSystem, Content: dispatch.SystemPrompt(m.DisplayName())}}
	s.transcript = nil
	s.state = StatusIdle
	st := s.statusLocked()
	s.mu.Unlock()

	log.Debug().Str("session", s.ID).Str("model", id).Msg("model selected")
	s.status.Set(s.ID, st)
	return nil
}

// Reset clears the conversation but keeps the selected model.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state == StatusAwaiting {
		s.mu.Unlock()
		return ErrBusy
	}
	s.transcript = nil
	if s.model != nil {
		s.conversation = s.conversation[:1]
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.status.Set(s.ID, st)
	return nil
}

// Send dispatches message with the full conversation as context. The sink
// gets the user message, the reply and any error for the selected model.
// A ValidationError or ErrBusy means nothing was dispatched.
func (s *Session) Send(ctx context.Context, message string, sink dispatch.Sink) (dispatch.Outcome, error) {
	s.mu.Lock()
	switch {
	case s.model == nil:
		s.mu.Unlock()
		return dispatch.Outcome{}, &dispatch.ValidationError{Field: "model", Message: "select a model first"}
	case strings.TrimSpace(message) == "":
		s.mu.Unlock()
		return dispatch.Outcome{}, &dispatch.ValidationError{Field: "message", Message: "enter a message"}
	case s.state == StatusAwaiting:
		s.mu.Unlock()
		return dispatch.Outcome{}, ErrBusy
	}

	s.state = StatusAwaiting
	modelID := s.model.ID
	history := append([]provider.Message(nil), s.conversation...)
	s.transcript = append(s.transcript, Entry{Role: provider.RoleUser, Content: message, CreatedAt: time.Now()})
	st := s.statusLocked()
	s.mu.Unlock()
	s.status.Set(s.ID, st)

	sink.AppendUserMessage(modelID, message, nil)
	out := s.dispatcher.Dispatch(ctx, modelID, message, history, nil, sink)

	s.mu.Lock()
	if out.State == dispatch.StateComplete {
		s.conversation = append(s.conversation,
			provider.Message{Role: provider.RoleUser, Content: message},
			provider.Message{Role: provider.RoleAssistant, Content: out.Text},
		)
		s.transcript = append(s.transcript, Entry{Role: provider.RoleAssistant, Content: out.Text, CreatedAt: time.Now()})
	} else {
		s.transcript = append(s.transcript, Entry{
			Role:      provider.RoleAssistant,
			Content:   provider.FriendlyMessage(out.Err),
			Error:     true,
			CreatedAt: time.Now(),
		})
	}
	s.state = StatusIdle
	st = s.statusLocked()
	s.mu.Unlock()
	s.status.Set(s.ID, st)

	log.Debug().
		Str("session", s.ID).
		Str("model", modelID).
		Str("state", string(out.State)).
		Int("turns", st.Turns).
		Msg("focused send finished")
	return out, nil
}

// Turns returns a copy of the conversation that will be sent on the next call.
func (s *Session) Turns() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Message(nil), s.conversation...)
}

// Transcript returns a copy of the visible transcript, failures included.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.transcript...)
}

// State returns the current state.
func (s *Session) State() StatusType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Model returns the selected model id, or "".
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ""
	}
	return s.model.ID
}

// Export renders the transcript as indented JSON.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	doc := struct {
		ID         string    `json:"id"`
		Model      string    `json:"model,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
		Transcript []Entry   `json:"transcript"`
	}{ID: s.ID, CreatedAt: s.CreatedAt, Transcript: append([]Entry{}, s.transcript...)}
	if s.model != nil {
		doc.Model = s.model.ID
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	return data, nil
}

func (s *Session) statusLocked() *Status {
	st := &Status{Type: s.state, Turns: len(s.conversation)}
	if s.model != nil {
		st.Model = s.model.ID
	}
	return st
}

// ─── Store ────────────────────────────────────────────────────────────────────

// Store keeps the live sessions in memory, one per client.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	statusMgr  *StatusManager
	dispatcher Dispatcher
	models     dispatch.Models
}

// NewStore creates an empty store
func NewStore(d Dispatcher, models dispatch.Models) *Store {
	return &Store{
		sessions:   make(map[string]*Session),
		statusMgr:  NewStatusManager(),
		dispatcher: d,
		models:     models,
	}
}

// StatusManager returns the status manager shared by all sessions
func (st *Store) StatusManager() *StatusManager {
	return st.statusMgr
}

// Create adds a new session with a fresh id
func (st *Store) Create() *Session {
	return st.GetOrCreate(uuid.New().String())
}

// Get returns a session by id
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess, nil
}

// GetOrCreate returns the session with id, creating it if needed
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.sessions[id]; ok {
		return sess
	}
	sess := newSession(id, st.dispatcher, st.models, st.statusMgr)
	st.sessions[id] = sess
	return sess
}

// List returns all sessions, newest first
func (st *Store) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a session
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
	st.statusMgr.Remove(id)
}
