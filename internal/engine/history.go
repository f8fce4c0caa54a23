package engine

import "alerthub/internal/domain"

const defaultHistoryLimit = 50

// History is a fixed-capacity ring of lifecycle snapshots.
// Params: capacity; the oldest entry is evicted first.
// Returns: append-only audit trail owned by the engine actor.
type History struct {
	entries  []domain.HistoryEntry
	start    int
	size     int
	capacity int
}

// NewHistory creates ring with capacity (minimum 1).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{entries: make([]domain.HistoryEntry, capacity), capacity: capacity}
}

// Append stores entry, evicting the oldest when full.
// Returns: true when an entry was evicted.
func (h *History) Append(entry domain.HistoryEntry) bool {
	if h.size < h.capacity {
		h.entries[(h.start+h.size)%h.capacity] = entry
		h.size++
		return false
	}
	h.entries[h.start] = entry
	h.start = (h.start + 1) % h.capacity
	return true
}

// Len returns current entry count.
func (h *History) Len() int {
	return h.size
}

// Trim drops oldest entries beyond limit.
// Returns: number of dropped entries.
func (h *History) Trim(limit int) int {
	if limit < 0 {
		limit = 0
	}
	dropped := 0
	for h.size > limit {
		h.entries[h.start] = domain.HistoryEntry{}
		h.start = (h.start + 1) % h.capacity
		h.size--
		dropped++
	}
	return dropped
}

// Newest returns up to limit entries newest first.
// Params: limit (<=0 means 50) and filter applied to the alert snapshot.
// Returns: independent copies.
func (h *History) Newest(limit int, filter domain.Filter) []domain.HistoryEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	out := make([]domain.HistoryEntry, 0, min(limit, h.size))
	h.EachNewest(func(entry domain.HistoryEntry) bool {
		if !filter.Match(entry.Alert) {
			return true
		}
		out = append(out, cloneEntry(entry))
		return len(out) < limit
	})
	return out
}

// All returns every entry newest first.
func (h *History) All() []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, 0, h.size)
	h.EachNewest(func(entry domain.HistoryEntry) bool {
		out = append(out, cloneEntry(entry))
		return true
	})
	return out
}

// EachNewest visits entries newest first until fn returns false.
func (h *History) EachNewest(fn func(domain.HistoryEntry) bool) {
	for i := h.size - 1; i >= 0; i-- {
		if !fn(h.entries[(h.start+i)%h.capacity]) {
			return
		}
	}
}

func cloneEntry(entry domain.HistoryEntry) domain.HistoryEntry {
	entry.Alert = entry.Alert.Clone()
	return entry
}
