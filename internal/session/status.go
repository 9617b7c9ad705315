package session

import (
	"sync"
)

// StatusType is the focused-chat state
type StatusType string

const (
	StatusNoModel  StatusType = "no-model-selected"
	StatusIdle     StatusType = "model-selected-idle"
	StatusAwaiting StatusType = "awaiting-response"
)

// Status represents the current state of a session
type Status struct {
	Type  StatusType `json:"type"`
	Model string     `json:"model,omitempty"`
	Turns int        `json:"turns"`
}

// StatusManager manages session statuses with thread-safe access
type StatusManager struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	onChange func(sessionID string, status *Status)
	watchers map[string]func(status *Status)
}

// NewStatusManager creates a new status manager
func NewStatusManager() *StatusManager {
	return &StatusManager{
		statuses: make(map[string]*Status),
		watchers: make(map[string]func(status *Status)),
	}
}

// OnChange registers a callback for status changes of every session.
func (sm *StatusManager) OnChange(callback func(sessionID string, status *Status)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = callback
}

// Watch registers a callback for one session. It replaces any earlier
// callback for that session and leaves the others alone.
func (sm *StatusManager) Watch(sessionID string, callback func(status *Status)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if callback == nil {
		delete(sm.watchers, sessionID)
		return
	}
	sm.watchers[sessionID] = callback
}

// Get returns the current status for a session
func (sm *StatusManager) Get(sessionID string) *Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if s, ok := sm.statuses[sessionID]; ok {
		return s
	}
	return &Status{Type: StatusNoModel}
}

// Set updates the status for a session. Callbacks run after the lock is
// released so they may call back into the manager.
func (sm *StatusManager) Set(sessionID string, status *Status) {
	sm.mu.Lock()
	sm.statuses[sessionID] = status
	onChange := sm.onChange
	watcher := sm.watchers[sessionID]
	sm.mu.Unlock()

	if onChange != nil {
		onChange(sessionID, status)
	}
	if watcher != nil {
		watcher(status)
	}
}

// Remove forgets a session
func (sm *StatusManager) Remove(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.statuses, sessionID)
	delete(sm.watchers, sessionID)
}

// IsBusy returns true if the session is waiting for a reply
func (sm *StatusManager) IsBusy(sessionID string) bool {
	return sm.Get(sessionID).Type == StatusAwaiting
}

// List returns all known session statuses
func (sm *StatusManager) List() map[string]*Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make(map[string]*Status, len(sm.statuses))
	for k, v := range sm.statuses {
		result[k] = v
	}
	return result
}
