package kvstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	_ Batcher     = (*MemoryStore)(nil)
	_ Snapshotter = (*MemoryStore)(nil)
	_ CloudStore  = (*MemoryCloud)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys returns the keys in sorted order.
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// All returns a copy of every entry.
func (m *MemoryStore) All(context.Context) (map[string][]byte, error) {
	return m.Dump(), nil
}

// SetMany writes every entry under one lock.
func (m *MemoryStore) SetMany(_ context.Context, entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range entries {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}

// RemoveMany removes every key under one lock.
func (m *MemoryStore) RemoveMany(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Dump returns a copy of every entry.
func (m *MemoryStore) Dump() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Replace swaps the whole contents for a copy of entries.
func (m *MemoryStore) Replace(entries map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte, len(entries))
	for k, v := range entries {
		m.data[k] = append([]byte(nil), v...)
	}
}

// =============================================================================
// In-memory cloud tier
// =============================================================================

// MemoryCloud is a CloudStore held in process memory. It counts Synchronize
// calls, can be switched offline, and lets the owner simulate a change made
// by another device.
type MemoryCloud struct {
	*MemoryStore

	unavailable atomic.Bool
	syncs       atomic.Int64

	mu        sync.Mutex
	nextID    int
	listeners map[int]func()
}

// NewMemoryCloud returns an empty, available MemoryCloud.
func NewMemoryCloud() *MemoryCloud {
	return &MemoryCloud{
		MemoryStore: NewMemoryStore(),
		listeners:   make(map[int]func()),
	}
}

func (c *MemoryCloud) Available(context.Context) bool {
	return !c.unavailable.Load()
}

// SetAvailable toggles the availability reported to callers.
func (c *MemoryCloud) SetAvailable(v bool) {
	c.unavailable.Store(!v)
}

func (c *MemoryCloud) Synchronize(context.Context) error {
	c.syncs.Add(1)
	return nil
}

// SyncCount returns how many times Synchronize has been called.
func (c *MemoryCloud) SyncCount() int {
	return int(c.syncs.Load())
}

func (c *MemoryCloud) OnExternalChange(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// NotifyExternalChange delivers a change notification to every listener, as
// if another device had written to the store.
func (c *MemoryCloud) NotifyExternalChange() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
