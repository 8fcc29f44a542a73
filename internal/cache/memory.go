package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process cache with per-item TTL and LRU eviction.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*memoryItem
	lru      *list.List
	maxItems int
	now      func() time.Time
}

type memoryItem struct {
	key    string
	value  []byte
	expiry time.Time
	elem   *list.Element
}

// NewMemory creates a memory cache holding at most maxItems entries
// (unbounded when maxItems <= 0).
func NewMemory(maxItems int) *Memory {
	return &Memory{
		items:    make(map[string]*memoryItem),
		lru:      list.New(),
		maxItems: maxItems,
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expiry.IsZero() && !m.now().Before(item.expiry) {
		m.removeLocked(item)
		return nil, false, nil
	}
	m.lru.MoveToFront(item.elem)
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expiry time.Time
	if ttl > 0 {
		expiry = m.now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	if item, ok := m.items[key]; ok {
		item.value = stored
		item.expiry = expiry
		m.lru.MoveToFront(item.elem)
		return nil
	}
	item := &memoryItem{key: key, value: stored, expiry: expiry}
	item.elem = m.lru.PushFront(item)
	m.items[key] = item
	for m.maxItems > 0 && len(m.items) > m.maxItems {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest.Value.(*memoryItem))
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		if item, ok := m.items[key]; ok {
			m.removeLocked(item)
		}
	}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, item := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeLocked(item)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, including expired ones not yet
// touched.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) removeLocked(item *memoryItem) {
	m.lru.Remove(item.elem)
	delete(m.items, item.key)
}
