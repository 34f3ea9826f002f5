package orchestrator

import (
	"container/list"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// Default history settings.
const (
	DefaultHistoryCap   = 1000
	DefaultHistoryLimit = 50
	maxHistoryQuery     = 200
	maxHistoryAnswer    = 500
)

// History is a bounded, insertion-ordered record of successful queries. When full
// the oldest entry is evicted.
type History struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

// NewHistory creates a history holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Add appends entry and evicts the oldest entries beyond capacity.
func (h *History) Add(entry *models.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if elem, ok := h.entries[entry.ID]; ok {
		h.order.Remove(elem)
	}
	h.entries[entry.ID] = h.order.PushBack(entry)
	for h.order.Len() > h.capacity {
		oldest := h.order.Front()
		h.order.Remove(oldest)
		delete(h.entries, oldest.Value.(*models.HistoryEntry).ID)
	}
}

// Get returns the entry with id.
func (h *History) Get(id string) (*models.HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	elem, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	e := *elem.Value.(*models.HistoryEntry)
	return &e, true
}

// Page returns up to limit entries, newest first. A non-positive limit means
// DefaultHistoryLimit; limits above the capacity are capped.
func (h *History) Page(limit int) models.HistoryPage {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]*models.HistoryEntry, 0, min(limit, h.order.Len()))
	for elem := h.order.Back(); elem != nil && len(entries) < limit; elem = elem.Prev() {
		e := *elem.Value.(*models.HistoryEntry)
		entries = append(entries, &e)
	}
	return models.HistoryPage{Entries: entries, Total: h.order.Len(), Limit: limit}
}

// DeleteOlderThan removes entries recorded before cutoff.
func (h *History) DeleteOlderThan(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for elem := h.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*models.HistoryEntry)
		if e.Timestamp.Before(cutoff) {
			h.order.Remove(elem)
			delete(h.entries, e.ID)
			n++
		}
		elem = next
	}
	return n
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}

// Capacity returns the maximum number of entries.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string]*list.Element)
	h.order.Init()
}
