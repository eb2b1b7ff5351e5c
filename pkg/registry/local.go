package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Table is a small concurrency-safe name-to-item map used for in-process
// registries: the broker's capability handlers and the remote client
// manager's per-agent clients.
type Table[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewTable returns an empty Table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{items: make(map[string]T)}
}

// Put stores item under name, replacing any previous entry.
func (t *Table[T]) Put(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[name] = item
	return nil
}

// Get returns the item registered under name.
func (t *Table[T]) Get(name string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[name]
	return item, ok
}

// Remove deletes the entry for name. Removing an absent name is a no-op.
func (t *Table[T]) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, name)
}

// Names returns the registered names in sorted order.
func (t *Table[T]) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.items))
	for name := range t.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
