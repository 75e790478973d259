package audit

import (
	"context"
	"sync"

	"dojo-backend/internal/models"
)

// Memory keeps events in memory. Used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(_ context.Context, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events carry the given action.
func (m *Memory) Count(action models.AuditAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Action == action {
			n++
		}
	}
	return n
}
