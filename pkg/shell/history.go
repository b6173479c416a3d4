package shell

// History is the command line history of one session. The cursor ranges
// over [0, Len()]; Len() is the empty new line.
type History struct {
	entries []string
	cursor  int
	max     int
}

// NewHistory keeps at most max entries. max <= 0 means unbounded.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Push appends a line and moves the cursor to the new line position.
func (h *History) Push(line string) {
	h.entries = append(h.entries, line)
	if h.max > 0 && len(h.entries) > h.max {
		h.entries = append([]string(nil), h.entries[len(h.entries)-h.max:]...)
	}
	h.cursor = len(h.entries)
}

// Up moves to the previous entry, stopping at the oldest. ok is false when
// the history is empty and the input should stay as it is.
func (h *History) Up() (line string, ok bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	if h.cursor > 0 {
		h.cursor--
	}
	return h.entries[h.cursor], true
}

// Down moves to the next entry. Past the newest entry it returns the
// empty new line.
func (h *History) Down() string {
	if h.cursor < len(h.entries)-1 {
		h.cursor++
		return h.entries[h.cursor]
	}
	h.cursor = len(h.entries)
	return ""
}

// Cursor returns the current position.
func (h *History) Cursor() int { return h.cursor }

// Len returns the number of entries.
func (h *History) Len() int { return len(h.entries) }
