package keyvalue

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-memory store intended for tests and dev.
type MemoryStore struct {
	mutex  sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (store *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("keyvalue.memory.get: %w", ErrEmptyKey)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.values[key]
	return value, ok, nil
}

// Set stores value under key, replacing any previous value.
func (store *MemoryStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.memory.set: %w", ErrEmptyKey)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.values[key] = value
	return nil
}

// Remove deletes key; removing an absent key succeeds.
func (store *MemoryStore) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.memory.remove: %w", ErrEmptyKey)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.values, key)
	return nil
}

// Driver reports the backend label.
func (store *MemoryStore) Driver() string {
	return "memory"
}

// Close is a no-op.
func (store *MemoryStore) Close() error {
	return nil
}
