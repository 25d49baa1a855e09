package readcache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	total     uint64
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expiry is lazy: entries die on the
// first read past their deadline, there is no sweeper goroutine.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clockwork.Clock
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

func (m *Memory) Get(key string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return 0, false
	}
	return e.total, true
}

func (m *Memory) Put(key string, total uint64, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{
		total:     total,
		expiresAt: m.clock.Now().Add(ttl),
	}
}

func (m *Memory) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
}
