package report

import "sync"

// Recent keeps the last N summaries of this process in a ring
type Recent struct {
	items   []Summary
	maxSize int
	mu      sync.RWMutex
}

// NewRecent creates a ring holding up to maxSize summaries
func NewRecent(maxSize int) *Recent {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Recent{items: make([]Summary, 0, maxSize), maxSize: maxSize}
}

// Add appends s, dropping the oldest entry when full. A summary for a
// session already held replaces it.
func (r *Recent) Add(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].SessionID == s.SessionID {
			r.items[i] = s
			return
		}
	}
	if len(r.items) >= r.maxSize {
		r.items = r.items[1:]
	}
	r.items = append(r.items, s)
}

// List returns up to n summaries, newest first. n <= 0 returns all.
func (r *Recent) List(n int) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]Summary, 0, n)
	for i := len(r.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.items[i])
	}
	return out
}

// Len returns the number of summaries held
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
