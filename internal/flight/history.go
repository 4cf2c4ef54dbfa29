package flight

// DefaultHistoryCapacity is the default History Buffer size.
const DefaultHistoryCapacity = 100

// History is a bounded newest-first sequence of outcomes. It is not safe for
// concurrent use; the feed manager serialises access to it.
type History struct {
	items []Outcome
	limit int
}

// NewHistory builds an empty buffer holding at most limit outcomes.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryCapacity
	}
	return &History{items: make([]Outcome, 0, limit), limit: limit}
}

// Cap returns the configured capacity.
func (h *History) Cap() int {
	return h.limit
}

// Len returns the number of buffered outcomes.
func (h *History) Len() int {
	return len(h.items)
}

// Push inserts o at the front, evicting the oldest entry once full.
func (h *History) Push(o Outcome) {
	if len(h.items) < h.limit {
		h.items = append(h.items, Outcome{})
	}
	copy(h.items[1:], h.items[:len(h.items)-1])
	h.items[0] = o
}

// Replace swaps the whole buffer for outcomes, keeping their order and at most
// Cap entries from the front.
func (h *History) Replace(outcomes []Outcome) {
	n := len(outcomes)
	if n > h.limit {
		n = h.limit
	}
	h.items = h.items[:0]
	h.items = append(h.items, outcomes[:n]...)
}

// Reset empties the buffer.
func (h *History) Reset() {
	h.items = h.items[:0]
}

// Latest returns the newest outcome.
func (h *History) Latest() (Outcome, bool) {
	if len(h.items) == 0 {
		return Outcome{}, false
	}
	return h.items[0], true
}

// Snapshot returns a copy, newest first.
func (h *History) Snapshot() []Outcome {
	out := make([]Outcome, len(h.items))
	copy(out, h.items)
	return out
}
