package lineedit

const DefaultHistorySize = 100

// History is a bounded, append-only list of submitted lines. When full,
// the oldest entry is evicted.
type History struct {
	entries []string
	size    int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

func (h *History) Add(line string) {
	h.entries = append(h.entries, line)
	if len(h.entries) > h.size {
		// copy so the evicted prefix does not pin a growing backing array
		h.entries = append([]string(nil), h.entries[len(h.entries)-h.size:]...)
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int { return len(h.entries) }

// Cap returns the maximum number of entries kept.
func (h *History) Cap() int { return h.size }

// At returns entry i, oldest first.
func (h *History) At(i int) string { return h.entries[i] }

// Last returns the most recent entry, or "" when empty.
func (h *History) Last() string {
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Entries returns a copy of all entries, oldest first.
func (h *History) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}
