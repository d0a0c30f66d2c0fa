// Package memory holds the two per-user memories of the dialogue pipeline:
// a bounded short-term window of recent decision summaries and a durable
// store of explicitly stated personal facts.
package memory

import (
	"context"
	"sync"
	"time"
)

// Entry is the summary of one decision kept in short-term memory.
type Entry struct {
	Pipeline       string    `json:"pipeline"`
	Intent         string    `json:"intent,omitempty"`
	Actions        []string  `json:"actions,omitempty"`
	Source         string    `json:"source,omitempty"`
	EpistemicState string    `json:"epistemic_state,omitempty"`
	Constraints    []string  `json:"constraints,omitempty"`
	Emotion        string    `json:"emotion,omitempty"`
	Confidence     float64   `json:"confidence"`
	At             time.Time `json:"at"`
}

// ShortTerm is a per-user FIFO trimmed to a fixed capacity.
type ShortTerm interface {
	// Recent returns up to n newest entries, oldest first. n <= 0 returns all.
	Recent(ctx context.Context, userID string, n int) ([]Entry, error)
	Append(ctx context.Context, userID string, e Entry) error
	Clear(ctx context.Context, userID string) error
}

const DefaultCapacity = 10

// InMemoryShortTerm is the default process-local backend.
type InMemoryShortTerm struct {
	capacity int
	mu       sync.Mutex
	entries  map[string][]Entry
}

func NewInMemoryShortTerm(capacity int) *InMemoryShortTerm {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryShortTerm{
		capacity: capacity,
		entries:  make(map[string][]Entry),
	}
}

func (m *InMemoryShortTerm) Recent(_ context.Context, userID string, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return window(m.entries[userID], n), nil
}

func (m *InMemoryShortTerm) Append(_ context.Context, userID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.entries[userID], e)
	if over := len(buf) - m.capacity; over > 0 {
		buf = append([]Entry(nil), buf[over:]...)
	}
	m.entries[userID] = buf
	return nil
}

func (m *InMemoryShortTerm) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// window copies the last n entries.
func window(buf []Entry, n int) []Entry {
	if n <= 0 || n > len(buf) {
		n = len(buf)
	}
	out := make([]Entry, n)
	copy(out, buf[len(buf)-n:])
	return out
}
