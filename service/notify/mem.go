package notify

import (
	"context"
	"sync"
)

// Sent is one captured notification.
type Sent struct {
	To  string
	Env Envelope
}

// MemNotifier records notifications in order, for tests.
type MemNotifier struct {
	mu   sync.Mutex
	sent []Sent
}

func NewMemNotifier() *MemNotifier { return &MemNotifier{} }

func (m *MemNotifier) Send(_ context.Context, toUID string, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{To: toUID, Env: env})
	return nil
}

func (m *MemNotifier) Close() {}

// All returns a copy of everything sent so far.
func (m *MemNotifier) All() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// Of filters captured notifications by recipient and kind.
func (m *MemNotifier) Of(toUID, kind string) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sent
	for _, s := range m.sent {
		if s.To == toUID && s.Env.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears the capture buffer.
func (m *MemNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
