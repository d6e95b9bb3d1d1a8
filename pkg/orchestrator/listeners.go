package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/voyagent/voyagent/pkg/eventbus"
)

// Listener receives every pipeline and execution transition. Callbacks run
// synchronously in registration order on the goroutine driving the request;
// they must not block.
type Listener func(event eventbus.Event)

type registration struct {
	id string
	fn Listener
}

type listenerRegistry struct {
	mu      sync.RWMutex
	entries []registration
}

func (l *listenerRegistry) add(fn Listener) string {
	id := uuid.New().String()

	l.mu.Lock()
	l.entries = append(l.entries, registration{id: id, fn: fn})
	l.mu.Unlock()

	return id
}

func (l *listenerRegistry) remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)

			return true
		}
	}

	return false
}

func (l *listenerRegistry) fire(event eventbus.Event) {
	l.mu.RLock()
	entries := make([]registration, len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	for _, entry := range entries {
		entry.fn(event)
	}
}
