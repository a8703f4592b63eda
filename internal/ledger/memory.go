package ledger

import (
	"context"
	"sync"
	"time"

	"storefront/internal/domain"
)

type memoryEntry struct {
	settled bool
	verdict domain.Verdict
	expires time.Time
}

// Memory is the in-process ledger. Entries are forgotten ttl after their
// claim, like the Redis backend's key expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryTTL(DefaultTTL)
}

func NewMemoryTTL(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) Claim(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[fp]; ok && !now.After(e.expires) {
		return false, nil
	}
	m.entries[fp] = memoryEntry{expires: now.Add(m.ttl)}
	return true, nil
}

func (m *Memory) Settle(_ context.Context, fp string, v domain.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok {
		e.expires = m.now().Add(m.ttl)
	}
	e.settled, e.verdict = true, v
	m.entries[fp] = e
	return nil
}

func (m *Memory) Settled(_ context.Context, fp string) (domain.Verdict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok || !e.settled || m.now().After(e.expires) {
		return domain.Verdict{}, false, nil
	}
	return e.verdict, true, nil
}

// Purge drops fingerprints whose ttl ran out before now and reports how many went.
func (m *Memory) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for fp, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, fp)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
