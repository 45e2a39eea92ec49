package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for a single process.
type MemoryStore struct {
	items     map[string]*memoryItem
	maxItems  int
	now       func() time.Time
	mu        sync.RWMutex
	closed    bool
	cleanupCh chan struct{}
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxItems bounds the number of stored keys. When full, expired items
// are dropped first, then the item closest to expiry.
func WithMaxItems(n int) MemoryOption {
	return func(ms *MemoryStore) {
		ms.maxItems = n
	}
}

// NewMemoryStore creates a new in-memory store and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	ms := &MemoryStore{
		items:     make(map[string]*memoryItem),
		now:       time.Now,
		cleanupCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	go ms.cleanupLoop(time.Minute)

	return ms
}

// Get returns a copy of the value stored at key.
func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrStoreClosed
	}

	item, ok := ms.items[key]
	if !ok || item.expired(ms.now()) {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(item.value))
	copy(result, item.value)
	return result, nil
}

// Set stores a copy of value.
func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	item := &memoryItem{value: valueCopy}
	if ttl > 0 {
		item.expiresAt = ms.now().Add(ttl)
	}

	if _, exists := ms.items[key]; !exists && ms.maxItems > 0 && len(ms.items) >= ms.maxItems {
		ms.evictLocked()
	}

	ms.items[key] = item
	return nil
}

// Delete removes a key.
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	delete(ms.items, key)
	return nil
}

// Close stops the cleanup loop. Further calls fail with ErrStoreClosed.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil
	}

	ms.closed = true
	close(ms.cleanupCh)
	return nil
}

// Len returns the number of stored items, expired or not.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.items)
}

func (ms *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.cleanupCh:
			return
		}
	}
}

func (ms *MemoryStore) cleanup() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, item := range ms.items {
		if item.expired(now) {
			delete(ms.items, key)
		}
	}
}

// evictLocked must be called with mu held.
func (ms *MemoryStore) evictLocked() {
	now := ms.now()
	var victim string
	var soonest time.Time

	for key, item := range ms.items {
		if item.expired(now) {
			delete(ms.items, key)
			continue
		}
		if victim == "" || (!item.expiresAt.IsZero() && (soonest.IsZero() || item.expiresAt.Before(soonest))) {
			victim, soonest = key, item.expiresAt
		}
	}

	if len(ms.items) >= ms.maxItems && victim != "" {
		delete(ms.items, victim)
	}
}
