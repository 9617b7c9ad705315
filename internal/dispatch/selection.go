package dispatch

import (
	"sort"
	"sync"
)

// Selection tracks which models take part in the next fan-out. Every model
// is enabled unless it has been switched off.
type Selection struct {
	mu       sync.RWMutex
	disabled map[string]bool
}

// NewSelection creates a selection with the given ids switched off.
func NewSelection(disabled ...string) *Selection {
	s := &Selection{disabled: make(map[string]bool, len(disabled))}
	for _, id := range disabled {
		s.disabled[id] = true
	}
	return s
}

// Enabled reports whether id takes part in fan-outs.
func (s *Selection) Enabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled[id]
}

// SetEnabled switches id on or off.
func (s *Selection) SetEnabled(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		delete(s.disabled, id)
	} else {
		s.disabled[id] = true
	}
}

// Toggle flips id and returns its new state.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled[id] {
		delete(s.disabled, id)
		return true
	}
	s.disabled[id] = true
	return false
}

// Filter returns the enabled ids from ids, keeping their order.
func (s *Selection) Filter(ids []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.disabled[id] {
			out = append(out, id)
		}
	}
	return out
}

// Disabled returns the switched-off ids, sorted.
func (s *Selection) Disabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.disabled))
	for id := range s.disabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
