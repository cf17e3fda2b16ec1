package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxKeys = 10000

// MemoryMarker keeps claims in a bounded in-process LRU. Claims are lost on
// restart and are not shared between instances.
type MemoryMarker struct {
	mu     sync.Mutex
	claims *expirable.LRU[string, time.Time]
	now    func() time.Time
}

// NewMemoryMarker returns a marker holding at most maxKeys live claims.
func NewMemoryMarker(maxKeys int) *MemoryMarker {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	// Entries carry their own deadline; the LRU only bounds memory.
	return &MemoryMarker{
		claims: expirable.NewLRU[string, time.Time](maxKeys, nil, 0),
		now:    time.Now,
	}
}

func (m *MemoryMarker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.claims.Get(key); ok && now.Before(until) {
		return false, nil
	}
	m.claims.Add(key, now.Add(ttl))
	return true, nil
}

// Len reports the number of tracked keys, including expired ones not yet evicted.
func (m *MemoryMarker) Len() int {
	return m.claims.Len()
}
