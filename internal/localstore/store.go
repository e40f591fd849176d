// Package localstore provides the crash-durable key/value store the pipeline
// uses for its queue of unconfirmed saves, fallback records and the
// confirmed-save index.
package localstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("localstore: key must not be empty")

// Entry is a key/value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a synchronous key/value store. Put is an upsert. Implementations
// are not required to be transactional across keys.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]Entry, error)
	Close() error
}

// MemoryStore keeps entries in a map. It does not survive restarts and is
// intended for tests and ephemeral agents.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	// FailPuts makes every Put return the error, to exercise storage failures.
	FailPuts error
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts != nil {
		return m.FailPuts
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// List returns entries whose key starts with prefix, ordered by key.
func (m *MemoryStore) List(prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for key, value := range m.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Entry{Key: key, Value: append([]byte(nil), value...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
