package tui

const maxHistoryEntries = 50

// promptHistory recalls earlier inputs with up/down, newest last. It lives
// only as long as the program.
type promptHistory struct {
	entries []string
	index   int // len(entries) means "fresh input"
}

func (h *promptHistory) append(input string) {
	if input == "" {
		return
	}
	if n := len(h.entries); n == 0 || h.entries[n-1] != input {
		h.entries = append(h.entries, input)
		if len(h.entries) > maxHistoryEntries {
			h.entries = h.entries[len(h.entries)-maxHistoryEntries:]
		}
	}
	h.index = len(h.entries)
}

// up returns the previous entry, staying on the oldest one.
func (h *promptHistory) up(current string) string {
	if len(h.entries) == 0 {
		return current
	}
	if h.index > 0 {
		h.index--
	}
	return h.entries[h.index]
}

// down returns the next entry; "" means back to fresh input.
func (h *promptHistory) down() string {
	if h.index < len(h.entries) {
		h.index++
	}
	if h.index == len(h.entries) {
		return ""
	}
	return h.entries[h.index]
}

func (h *promptHistory) navigating() bool {
	return h.index < len(h.entries)
}
