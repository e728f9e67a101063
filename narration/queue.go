package narration

import "sync"

// Queue is the ordered list of narration texts maintained by the editing
// surface. Insertion order is reading order.
type Queue struct {
	mu      sync.RWMutex
	entries []string
}

func NewQueue(entries ...string) *Queue {
	return &Queue{entries: append([]string(nil), entries...)}
}

func (q *Queue) Add(text string) {
	q.mu.Lock()
	q.entries = append(q.entries, text)
	q.mu.Unlock()
}

// Set replaces the entry at i. Out-of-range indexes are ignored.
func (q *Queue) Set(i int, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i >= 0 && i < len(q.entries) {
		q.entries[i] = text
	}
}

// RemoveAt deletes the entry at i. Out-of-range indexes are ignored.
func (q *Queue) RemoveAt(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i >= 0 && i < len(q.entries) {
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
	}
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Snapshot returns a copy of the current entries. Later edits to the queue do
// not affect the returned slice.
func (q *Queue) Snapshot() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.entries...)
}
