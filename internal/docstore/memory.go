package docstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, used in development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func memoryKey(collection, id string) string {
	return collection + "/" + id
}

// Get returns a copy of the stored body.
func (m *MemoryStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, ok := m.docs[memoryKey(collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// Put stores a copy of body.
func (m *MemoryStore) Put(_ context.Context, collection, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[memoryKey(collection, id)] = append([]byte(nil), body...)
	return nil
}

// Update runs fn while holding the store lock.
func (m *MemoryStore) Update(_ context.Context, collection, id string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(collection, id)
	current, exists := m.docs[key]
	if exists {
		current = append([]byte(nil), current...)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next != nil {
		m.docs[key] = append([]byte(nil), next...)
	}
	return nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, memoryKey(collection, id))
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
