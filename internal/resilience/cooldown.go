package resilience

import (
	"sync"
	"time"
)

// CooldownStore tracks per-resource cooldown deadlines so that calls to a
// rate-limited resource are held back before the first attempt is even
// made. It is injected into the Invoker rather than held as module-level
// state, so instances sharing a durable backing store can share cooldowns.
type CooldownStore interface {
	// Until returns the cooldown deadline for a resource, if one is set.
	Until(resource string) (time.Time, bool)
	// Extend moves the resource's cooldown deadline forward to until.
	// An earlier deadline never shortens an existing one.
	Extend(resource string, until time.Time)
	// Clear removes the resource's cooldown.
	Clear(resource string)
}

// MemoryCooldowns is the in-process CooldownStore.
type MemoryCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

// NewMemoryCooldowns creates an empty in-process cooldown store.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{until: make(map[string]time.Time)}
}

func (m *MemoryCooldowns) Until(resource string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.until[resource]
	return t, ok
}

func (m *MemoryCooldowns) Extend(resource string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.until[resource]; ok && cur.After(until) {
		return
	}
	m.until[resource] = until
}

func (m *MemoryCooldowns) Clear(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.until, resource)
}
