package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by GetOrLoad when the collection is fully loaded
// and the key is confirmed absent, so callers can skip the backing store.
var ErrNotFound = errors.New("cache: not found")

// Collection is the in-process cache for one named collection. It tracks two
// distinct facts: which keys are cached, and whether the entire collection
// has been bulk-loaded. A miss after a bulk load is a confirmed absence; a
// miss before it only means the key has not been read yet.
type Collection struct {
	mu      sync.RWMutex
	entries map[string]any
	loaded  bool
}

func NewCollection() *Collection {
	return &Collection{entries: make(map[string]any)}
}

// Get returns the cached value for key.
func (c *Collection) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set caches a single value. It does not touch the bulk-loaded flag.
func (c *Collection) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// SetAll replaces the cached entries with a full collection snapshot and
// marks the collection bulk-loaded. An empty map is a valid full load.
func (c *Collection) SetAll(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any, len(values))
	for k, v := range values {
		c.entries[k] = v
	}
	c.loaded = true
}

// Loaded reports whether the whole collection has been bulk-loaded.
func (c *Collection) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Delete evicts one key. The bulk-loaded flag is kept: deletion happens on
// writes that also remove the row from the store, so absence stays truthful.
func (c *Collection) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry and resets the bulk-loaded flag.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any)
	c.loaded = false
}

// Len returns the number of cached entries.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the cached entries.
func (c *Collection) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// GetOrLoad implements the read-through pattern. A hit returns immediately.
// A miss on a bulk-loaded collection returns ErrNotFound without calling the
// loader. Otherwise the loader runs and a successful result is cached.
func (c *Collection) GetOrLoad(ctx context.Context, key string, loader func(context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if c.Loaded() {
		return nil, ErrNotFound
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	return v, nil
}

// Manager aggregates the per-collection caches.
type Manager struct {
	Lectures *Collection
	Settings *Collection
}

func NewManager() *Manager {
	return &Manager{
		Lectures: NewCollection(),
		Settings: NewCollection(),
	}
}

// Reset clears every collection cache, entries and bulk-loaded flags both.
// Called when the underlying store is cleared or re-initialized.
func (m *Manager) Reset() {
	m.Lectures.Clear()
	m.Settings.Clear()
}

// Stats reports entry counts per collection, for the health endpoint.
func (m *Manager) Stats() map[string]int {
	return map[string]int{
		"lectures": m.Lectures.Len(),
		"settings": m.Settings.Len(),
	}
}
