package event

import (
	"sync"
	"time"
)

// HistoryCapacity is the number of accepted events retained for diagnostics.
const HistoryCapacity = 20

// HistoryEntry summarizes an accepted event with its capture time.
type HistoryEntry struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Tool      string    `json:"tool"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
}

func NewHistoryEntry(e Event, at time.Time) HistoryEntry {
	return HistoryEntry{
		Time:      at.UTC(),
		Type:      e.Type,
		Tool:      e.Tool,
		SessionID: e.SessionID,
		Title:     e.Title,
	}
}

// History is a fixed-size ring of entries. When full, Add overwrites the
// oldest entry.
type History struct {
	mu      sync.RWMutex
	entries [HistoryCapacity]HistoryEntry
	next    int // slot the next Add writes
	size    int
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % HistoryCapacity
	if h.size < HistoryCapacity {
		h.size++
	}
}

// Recent returns a copy of the retained entries, newest first.
func (h *History) Recent() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]HistoryEntry, 0, h.size)
	for i := 1; i <= h.size; i++ {
		idx := (h.next - i + HistoryCapacity) % HistoryCapacity
		result = append(result, h.entries[idx])
	}
	return result
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
